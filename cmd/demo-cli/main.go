// Command demo-cli runs the full matching lifecycle against an in-process
// node: two identities create profiles, set preferences, like each other into
// a match, accept it, exchange an end-to-end encrypted message and rate the
// experience. Rejected operations (messaging before mutual accept,
// overdrawing stake, an out-of-range rating) are exercised on purpose to show
// the node refusing them.
//
//	go run ./cmd/demo-cli
//	go run ./cmd/demo-cli --addr=127.0.0.1:8099 --keep-alive
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shivaniD96/web3cupid/api/httpserver"
	"github.com/shivaniD96/web3cupid/client"
	"github.com/shivaniD96/web3cupid/gateway"
	"github.com/shivaniD96/web3cupid/ledger"
	"github.com/shivaniD96/web3cupid/protocol"
	"github.com/shivaniD96/web3cupid/server"
)

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:8099", "address the demo node listens on")
		keepAlive = flag.Bool("keep-alive", false, "keep the node running after the demo for manual poking")
		verbose   = flag.Bool("v", false, "log node internals to stderr")
	)
	flag.Parse()

	if err := run(*addr, *keepAlive, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(addr string, keepAlive, verbose bool) error {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	gw, err := gateway.NewInMemoryGateway()
	if err != nil {
		return err
	}
	node, err := protocol.NewNode(protocol.DefaultConfig(), gw, ledger.NewMemLog(), log)
	if err != nil {
		return err
	}
	srv, err := server.New(&httpserver.HTTPServerConfig{
		ListenAddr:               addr,
		Log:                      log,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
		GracefulShutdownDuration: 3 * time.Second,
	}, node)
	if err != nil {
		return err
	}
	srv.RunInBackground()
	defer srv.Shutdown()

	baseURL := "http://" + addr
	if err := waitForNode(baseURL); err != nil {
		return err
	}
	fmt.Printf("Demo node listening on %s\n\n", baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := runScenario(ctx, baseURL); err != nil {
		return err
	}

	if keepAlive {
		fmt.Printf("\nNode still running on %s, Ctrl-C to stop.\n", baseURL)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
	}
	return nil
}

func waitForNode(baseURL string) error {
	for i := 0; i < 50; i++ {
		resp, err := http.Get(baseURL + "/livez")
		if err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("node did not come up on %s", baseURL)
}

func runScenario(ctx context.Context, baseURL string) error {
	alice, err := client.Dial(ctx, client.SessionConfig{BaseURL: baseURL})
	if err != nil {
		return fmt.Errorf("dialing as alice: %w", err)
	}
	defer alice.Close()
	bob, err := client.Dial(ctx, client.SessionConfig{BaseURL: baseURL})
	if err != nil {
		return fmt.Errorf("dialing as bob: %w", err)
	}
	defer bob.Close()
	cfg := alice.ChainConfig()

	// Live event feed in the background.
	notices, err := alice.WatchEvents(ctx)
	if err != nil {
		return fmt.Errorf("watching events: %w", err)
	}
	go func() {
		for n := range notices {
			for _, ev := range n.Events {
				fmt.Printf("    [event] seq=%d %s\n", n.Seq, ev.Kind)
			}
		}
	}()

	fmt.Println("== Profiles ==")
	_, err = alice.CreateProfile(ctx, protocol.ProfileAttributes{
		Age: 25, CryptoExperience: 3, RiskTolerance: 7, InvestmentStyle: 2,
		PreferredChain: 1, TradingFrequency: 2, PortfolioRange: 3, SocialActivity: 2,
	}, "alice.eth", cfg.MinStake)
	if err != nil {
		return fmt.Errorf("creating alice's profile: %w", err)
	}
	balance, err := alice.StakingBalance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  alice.eth created, stake %s (%s)\n", client.FormatAmount(balance), alice.Address())

	_, err = bob.CreateProfile(ctx, protocol.ProfileAttributes{
		Age: 28, CryptoExperience: 5, RiskTolerance: 6, InvestmentStyle: 2,
		PreferredChain: 1, TradingFrequency: 3, PortfolioRange: 4, SocialActivity: 3,
	}, "bob.eth", cfg.MinStake)
	if err != nil {
		return fmt.Errorf("creating bob's profile: %w", err)
	}
	fmt.Printf("  bob.eth created (%s)\n", bob.Address())

	if _, err := alice.SetPreferences(ctx, protocol.PreferenceCriteria{MinAge: 21, MaxAge: 35}); err != nil {
		return err
	}
	if _, err := bob.SetPreferences(ctx, protocol.PreferenceCriteria{}); err != nil {
		return err
	}
	fmt.Println("  preferences set (encrypted, matcher-only)")

	fmt.Println("\n== Matching ==")
	if _, err := alice.LikeUser(ctx, bob.Address()); err != nil {
		return err
	}
	fmt.Println("  alice likes bob (bob cannot see who)")

	likes, err := bob.Likes(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  bob has %d pending like(s)\n", len(likes))

	receipt, err := bob.LikeUser(ctx, alice.Address())
	if err != nil {
		return err
	}
	matchID, ok := receipt.MatchCreated()
	if !ok {
		return errors.New("reciprocal like did not create a match")
	}
	fmt.Printf("  bob likes alice back -> match %s\n", matchID)

	// Messaging needs both sides to accept first.
	if _, err := alice.SendMessage(ctx, matchID, "gm"); err == nil {
		return errors.New("message before mutual accept should have been refused")
	} else {
		fmt.Printf("  message before accept refused: %v\n", err)
	}

	if _, err := alice.AcceptMatch(ctx, matchID); err != nil {
		return err
	}
	if _, err := bob.AcceptMatch(ctx, matchID); err != nil {
		return err
	}
	fmt.Println("  both accepted, messaging open")

	fmt.Println("\n== Messaging ==")
	if _, err := alice.SendMessage(ctx, matchID, "gm bob, nice portfolio"); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	msgs, err := bob.Messages(ctx, matchID)
	if err != nil {
		return err
	}
	plaintext, err := bob.DecryptMessage(msgs[len(msgs)-1])
	if err != nil {
		return fmt.Errorf("decrypting as bob: %w", err)
	}
	fmt.Printf("  bob decrypts: %q\n", plaintext)
	if _, err := alice.DecryptMessage(msgs[len(msgs)-1]); err != nil {
		fmt.Println("  alice cannot decrypt her own sent copy (encrypted to bob's key)")
	}
	balance, err = alice.StakingBalance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  alice's stake after message fee: %s\n", client.FormatAmount(balance))

	fmt.Println("\n== Stake ==")
	if _, err := alice.WithdrawStake(ctx, cfg.MinStake*1000); err == nil {
		return errors.New("overdraw should have been refused")
	} else {
		fmt.Printf("  overdraw refused: %v\n", err)
	}

	fmt.Println("\n== Reputation ==")
	if _, err := alice.RateMatch(ctx, matchID, 6); err == nil {
		return errors.New("rating 6 should have been refused")
	} else {
		fmt.Printf("  rating 6 refused: %v\n", err)
	}
	if _, err := alice.RateMatch(ctx, matchID, 5); err != nil {
		return err
	}
	sum, count, err := bob.Reputation(ctx, bob.Address())
	if err != nil {
		return err
	}
	fmt.Printf("  alice rates bob 5, bob's reputation: %d/5 over %d rating(s)\n", sum, count)

	if _, err := alice.RequestReveal(ctx, matchID); err != nil {
		return err
	}
	fmt.Println("\n  identities revealed, happy ever after")
	return nil
}
