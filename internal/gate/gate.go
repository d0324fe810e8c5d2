// Package gate runs the operator console loop for the entry/exit station.
// One scan is handled to completion before the next is read; cancellation
// finishes the in-flight scan and then stops.
package gate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/smartspot/parking/internal/metrics"
	"github.com/smartspot/parking/internal/services"
	"github.com/smartspot/parking/internal/store"
)

// Announcer pushes operator-facing gate events to external surfaces (the
// facility display board). Best effort only.
type Announcer interface {
	Announce(ctx context.Context, message string)
}

type Gate struct {
	sessions  *services.SessionService
	metrics   *metrics.Metrics
	announcer Announcer
	in        io.Reader
	out       io.Writer
	debounce  time.Duration
	scanDelay time.Duration // settle time after a successful entry/exit
	pollDelay time.Duration // guard against rapid repeated scans
}

func New(sessions *services.SessionService, m *metrics.Metrics, announcer Announcer, in io.Reader, out io.Writer, debounce, scanDelay, pollDelay time.Duration) *Gate {
	return &Gate{
		sessions:  sessions,
		metrics:   m,
		announcer: announcer,
		in:        in,
		out:       out,
		debounce:  debounce,
		scanDelay: scanDelay,
		pollDelay: pollDelay,
	}
}

// Run consumes scans until the input closes or the context is canceled.
func (g *Gate) Run(ctx context.Context) error {
	fmt.Fprintln(g.out, "=== Parking Gate System ===")

	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(g.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				// Run already returned; drop the pending line and exit
				// instead of blocking on the send forever.
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(g.out, "\nScan user ID (or press Enter): ")
		select {
		case <-ctx.Done():
			log.Println("[GATE] Shutting down gate system...")
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-readErr
			}
			publicID := strings.TrimSpace(line)
			if publicID == "" {
				continue
			}
			g.handleScan(ctx, publicID)
			if !sleepCtx(ctx, g.pollDelay) {
				log.Println("[GATE] Shutting down gate system...")
				return ctx.Err()
			}
		}
	}
}

// handleScan dispatches one scan: no active session means entry, one active
// session means exit (after the debounce check), multiple means an anomaly
// the operator has to escalate.
func (g *Gate) handleScan(ctx context.Context, publicID string) {
	session, err := g.sessions.ActiveSession(ctx, publicID)
	switch {
	case err == nil:
		if time.Since(session.EntryTime) < g.debounce {
			// Same logical session; the repeat scan is presentation noise.
			fmt.Fprintln(g.out, "Please wait before scanning again...")
			g.metrics.ScansTotal.WithLabelValues("debounced").Inc()
			return
		}
		g.handleExit(ctx, publicID)
	case errors.Is(err, services.ErrNoActiveSession):
		g.handleEntry(ctx, publicID)
	case errors.Is(err, services.ErrMultipleActiveSessions):
		fmt.Fprintf(g.out, "Error: Multiple active sessions found for user %s. Please contact admin.\n", publicID)
		g.metrics.ScansTotal.WithLabelValues("anomaly").Inc()
	default:
		g.reportTransient(publicID, err)
	}
}

func (g *Gate) handleEntry(ctx context.Context, publicID string) {
	session, err := g.sessions.RecordEntry(ctx, publicID)
	if err != nil {
		g.reportFailure(ctx, publicID, err)
		return
	}
	fmt.Fprintf(g.out, "Entry recorded for user %s at %s\n", publicID, session.EntryTime.Format(time.RFC3339))
	g.metrics.ScansTotal.WithLabelValues("entry").Inc()
	g.announce(ctx, fmt.Sprintf("Vehicle %s entered", publicID))
	sleepCtx(ctx, g.scanDelay)
}

func (g *Gate) handleExit(ctx context.Context, publicID string) {
	receipt, err := g.sessions.RecordExit(ctx, publicID)
	if err != nil {
		g.reportFailure(ctx, publicID, err)
		return
	}
	fmt.Fprintf(g.out, "Exit recorded for user %s\n", publicID)
	fmt.Fprintf(g.out, "Parking fee: %d\n", receipt.Fee)
	fmt.Fprintf(g.out, "Remaining balance: %d\n", receipt.Balance)
	g.metrics.ScansTotal.WithLabelValues("exit").Inc()
	g.metrics.FeesCollected.Add(float64(receipt.Fee))
	g.announce(ctx, fmt.Sprintf("Vehicle %s exited, fee %d", publicID, receipt.Fee))
	sleepCtx(ctx, g.scanDelay)
}

// reportFailure prints business-rule rejections to the operator; anything
// else is treated as transient, logged, and abandoned for this scan.
func (g *Gate) reportFailure(ctx context.Context, publicID string, err error) {
	var insufficient *services.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		fmt.Fprintf(g.out, "Error: Insufficient balance! Required: %d, Available: %d\n",
			insufficient.Required, insufficient.Available)
		g.metrics.ScansTotal.WithLabelValues("rejected").Inc()
	case errors.Is(err, services.ErrInvalidIdentifier):
		fmt.Fprintf(g.out, "Error: Invalid user ID format: %s\n", publicID)
		g.metrics.ScansTotal.WithLabelValues("rejected").Inc()
	case errors.Is(err, services.ErrSessionAlreadyActive):
		fmt.Fprintf(g.out, "Error: User %s already has an active parking session!\n", publicID)
		g.metrics.ScansTotal.WithLabelValues("rejected").Inc()
	case errors.Is(err, services.ErrNoActiveSession):
		fmt.Fprintf(g.out, "Error: No active parking session found for user %s!\n", publicID)
		g.metrics.ScansTotal.WithLabelValues("rejected").Inc()
	case errors.Is(err, services.ErrMultipleActiveSessions), errors.Is(err, services.ErrDuplicateAccount):
		fmt.Fprintf(g.out, "Error: Data anomaly for user %s. Please contact admin.\n", publicID)
		g.metrics.ScansTotal.WithLabelValues("anomaly").Inc()
	default:
		g.reportTransient(publicID, err)
	}
}

func (g *Gate) reportTransient(publicID string, err error) {
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrUnavailable) {
		log.Printf("[GATE] Store trouble handling scan for %s, will retry on next scan: %v", publicID, err)
	} else {
		log.Printf("[GATE] Error handling scan for %s: %v", publicID, err)
	}
	g.metrics.ScansTotal.WithLabelValues("error").Inc()
}

func (g *Gate) announce(ctx context.Context, message string) {
	if g.announcer != nil {
		g.announcer.Announce(ctx, message)
	}
}

// sleepCtx waits d or until cancellation; reports whether the full wait ran.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
