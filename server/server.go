package server

import (
	"github.com/shivaniD96/web3cupid/api/httpserver"
	"github.com/shivaniD96/web3cupid/protocol"
)

// Server is the node's public API server: the BaseServer lifecycle with the
// NodeHandler's routes mounted.
type Server struct {
	*httpserver.BaseServer
	handler *NodeHandler
}

// New creates the API server for a node.
func New(cfg *httpserver.HTTPServerConfig, node *protocol.Node) (*Server, error) {
	handler := NewNodeHandler(node, cfg.Log)
	base, err := httpserver.New(cfg, handler)
	if err != nil {
		return nil, err
	}
	return &Server{BaseServer: base, handler: handler}, nil
}
