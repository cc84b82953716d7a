package session

import (
	"context"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	"tabwatch/pkg/model"
)

// Session is one live protocol connection scoped to a single target.
type Session struct {
	ID     model.SessionID
	Target model.TargetID

	conn   *rpcc.Conn
	client *cdp.Client
}

// Client exposes the protocol client for domain-specific calls.
func (s *Session) Client() *cdp.Client { return s.client }

// Close tears down the underlying connection.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Probe runs a trivial expression in the target to verify it still responds.
// The caller bounds ctx; expiry counts as an unresponsive target.
func (s *Session) Probe(ctx context.Context) error {
	_, err := s.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs("1+1"))
	return err
}

// Navigate points the target at url.
func (s *Session) Navigate(ctx context.Context, url string) error {
	_, err := s.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	return err
}
