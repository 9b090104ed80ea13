package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoTransition means the workflow offers no path to a terminal status
// from where the issue currently is. Callers fall back to asking a human.
var ErrNoTransition = errors.New("no transition to a terminal status")

const closeResolution = "fixed"

// Closer drives an issue to a completed status through its workflow graph.
type Closer struct {
	client     *Client
	classifier *StatusClassifier
}

func NewCloser(client *Client, classifier *StatusClassifier) *Closer {
	return &Closer{client: client, classifier: classifier}
}

// Close tries the direct terminal transition first. Some workflows only
// expose it from an in-progress status, so when no terminal edge is visible
// the issue is hopped to in-progress and the terminal edge is retried exactly
// once. ErrNoTransition when both attempts come up empty.
func (c *Closer) Close(ctx context.Context, key string) error {
	transitions, err := c.client.ListTransitions(ctx, key)
	if err != nil {
		return err
	}

	if t := c.findTerminal(transitions); t != nil {
		return c.client.ExecuteTransition(ctx, key, t.ID, closeResolution)
	}

	hop := c.findInProgress(transitions)
	if hop == nil {
		return fmt.Errorf("closing %s: %w", key, ErrNoTransition)
	}

	slog.InfoContext(ctx, "no direct close transition, hopping through in-progress",
		"key", key, "transition", hop.ID)
	if err := c.client.ExecuteTransition(ctx, key, hop.ID, ""); err != nil {
		return err
	}

	transitions, err = c.client.ListTransitions(ctx, key)
	if err != nil {
		return err
	}
	if t := c.findTerminal(transitions); t != nil {
		return c.client.ExecuteTransition(ctx, key, t.ID, closeResolution)
	}
	return fmt.Errorf("closing %s after in-progress hop: %w", key, ErrNoTransition)
}

func (c *Closer) findTerminal(transitions []Transition) *Transition {
	for i := range transitions {
		if c.classifier.ClassifyStatus(transitions[i].To) == StatusCompleted {
			return &transitions[i]
		}
	}
	return nil
}

func (c *Closer) findInProgress(transitions []Transition) *Transition {
	for i := range transitions {
		if c.classifier.ClassifyStatus(transitions[i].To) == StatusInProgress {
			return &transitions[i]
		}
	}
	return nil
}
