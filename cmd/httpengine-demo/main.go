// Command httpengine-demo drives one full transaction end to end over an
// in-process net.Pipe() pair, the way the teacher's examples/basic.go
// demonstrates a single Do() call: here it's a single Session.Run over a
// synthetic frontend/backend pair instead of a real dial, since socket
// ownership is out of scope (spec.md §1).
//
// Grounded on the teacher's cmd/ subpackages for the "one runnable demo
// per behavior" shape, built as a cobra root command with one subcommand
// per scenario (cobra itself grounded on docker-compose's go.mod) per
// SPEC_FULL.md §12, which calls for Scenario A (minimal GET) and Scenario
// E (a redirect rule rewriting a path prefix) from spec.md §8.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/haprox/httpengine/pkg/hlog"
	"github.com/haprox/httpengine/pkg/ring"
	"github.com/haprox/httpengine/pkg/rules"
	"github.com/haprox/httpengine/pkg/session"
	"github.com/haprox/httpengine/pkg/uid"
)

func main() {
	root := &cobra.Command{
		Use:   "httpengine-demo",
		Short: "Drives one HTTP transaction through the protocol engine end to end",
	}
	root.AddCommand(scenarioACmd(), scenarioECmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func scenarioACmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario-a",
		Short: "Minimal GET/200 request-response pair (spec.md Scenario A)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, nil,
				"GET / HTTP/1.1\r\nHost: example.com\r\n\r\n",
				"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK")
		},
	}
}

func scenarioECmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario-e",
		Short: "Rule-driven redirect rewriting a path prefix (spec.md Scenario E)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleList := []rules.Action{
				{Kind: rules.ActionRedirect, RedirectTo: "/new/old/x?q=1", RedirectCode: 301},
			}
			return runDemo(cmd, ruleList,
				"GET /old/x?q=1 HTTP/1.1\r\nHost: example.com\r\n\r\n",
				"")
		},
	}
}

func runDemo(cmd *cobra.Command, ruleList []rules.Action, request, response string) error {
	feClient, feServer := net.Pipe()
	beServer, beClient := net.Pipe()
	defer feClient.Close()
	defer beServer.Close()

	s := session.New(
		&session.Channel{Conn: feServer, Ring: ring.New(8192, 512)},
		&session.Channel{Conn: beClient, Ring: ring.New(8192, 512)},
		ruleList,
	)

	// The transaction itself completes in-process almost instantly; the
	// timeout here doubles as the demo's idle cutoff, since ConnMode
	// defaults to WantKAL (keep-alive) and nothing else in this demo
	// ever hangs up the connection the way a real listener's idle timer
	// would.
	ctx, cancel := context.WithTimeout(cmd.Context(), 300*time.Millisecond)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	// feClient drains whatever the engine forwards back to the client
	// (the response head/body Session writes to Frontend.Conn); without
	// draining, that Write would block forever against net.Pipe's
	// unbuffered, synchronous semantics.
	go func() {
		feClient.Write([]byte(request))
		buf := make([]byte, 4096)
		for {
			if _, err := feClient.Read(buf); err != nil {
				return
			}
		}
	}()

	// beServer plays the backend: read the forwarded request once, write
	// back the canned response, then keep draining so any further writes
	// from the engine don't leave a goroutine wedged against a closed
	// Session. Scenario E's redirect verdict short-circuits before the
	// request ever reaches the backend, so beServer's Read returns once
	// the Session closes its backend Conn (or at the deadline, whichever
	// comes first); response stays empty in that case.
	go func() {
		buf := make([]byte, 4096)
		beServer.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, err := beServer.Read(buf); err != nil {
			return
		}
		if response != "" {
			beServer.Write([]byte(response))
		}
		for {
			if _, err := beServer.Read(buf); err != nil {
				return
			}
		}
	}()

	<-result
	cancel()

	ids := uid.NewPool()
	rec := hlog.FromTransaction(s.Txn, ids.Next(), "KAL")
	sink := hlog.NewLogrusSink()
	sink.LogTransaction(rec)
	return nil
}
