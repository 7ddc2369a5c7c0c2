package memcache

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/looplab/fsm"
	"github.com/pior/memcache-binary/binprot"
	"github.com/sirupsen/logrus"
)

// PlainMechanism is the only SASL mechanism supported.
const PlainMechanism = "PLAIN"

// Credentials enable SASL PLAIN authentication on every new connection.
type Credentials struct {
	Username string
	Password string
}

// SASL handshake states
const (
	authUnauthenticated     = "unauthenticated"
	authMechanismsRequested = "mechanisms_requested"
	authAuthenticating      = "authenticating"
	authAuthenticated       = "authenticated"
	authFailed              = "failed"

	eventSkip           = "skip"
	eventListMechanisms = "list_mechanisms"
	eventStart          = "start"
	eventSucceed        = "succeed"
	eventFail           = "fail"

	maxSaslSteps = 8
)

var authTransitions = fsm.Events{
	{Name: eventSkip, Src: []string{authUnauthenticated}, Dst: authAuthenticated},
	{Name: eventListMechanisms, Src: []string{authUnauthenticated}, Dst: authMechanismsRequested},
	{Name: eventStart, Src: []string{authMechanismsRequested}, Dst: authAuthenticating},
	{Name: eventSucceed, Src: []string{authAuthenticating}, Dst: authAuthenticated},
	{Name: eventFail, Src: []string{authMechanismsRequested, authAuthenticating}, Dst: authFailed},
}

type roundTripFunc func(ctx context.Context, req *binprot.Request) (*binprot.Response, error)

// authenticator tracks the SASL handshake of one connection.
type authenticator struct {
	machine *fsm.FSM
}

func newAuthenticator(logger logrus.FieldLogger) *authenticator {
	return &authenticator{
		machine: fsm.NewFSM(authUnauthenticated, authTransitions, fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.WithFields(logrus.Fields{
					"event": e.Event,
					"from":  e.Src,
					"to":    e.Dst,
				}).Debug("sasl state changed")
			},
		}),
	}
}

func (a *authenticator) state() string {
	return a.machine.Current()
}

func (a *authenticator) authenticated() bool {
	return a.machine.Is(authAuthenticated)
}

// run performs the handshake. Without credentials the connection is
// authenticated right away. It can only run once per connection.
func (a *authenticator) run(ctx context.Context, creds *Credentials, roundTrip roundTripFunc) error {
	switch a.state() {
	case authAuthenticated:
		return nil
	case authUnauthenticated:
	default:
		return &AuthError{Err: fmt.Errorf("handshake already ran, state %s", a.state())}
	}

	if creds == nil {
		return a.transition(ctx, eventSkip)
	}

	if err := a.transition(ctx, eventListMechanisms); err != nil {
		return err
	}

	resp, err := roundTrip(ctx, binprot.NewSaslListMechsRequest())
	if err != nil {
		return a.fail(ctx, err)
	}
	if err := resp.Err(); err != nil {
		return a.fail(ctx, &AuthError{Err: err})
	}

	mechanisms := binprot.ParseMechanisms(resp.Value)
	if !slices.Contains(mechanisms, PlainMechanism) {
		return a.fail(ctx, &AuthError{Err: fmt.Errorf("%w, server offers %q", ErrUnsupportedMechanism, mechanisms)})
	}

	if err := a.transition(ctx, eventStart); err != nil {
		return err
	}

	req := binprot.NewSaslAuthRequest(PlainMechanism, binprot.PlainAuthData(creds.Username, creds.Password))
	for range maxSaslSteps {
		resp, err := roundTrip(ctx, req)
		if err != nil {
			return a.fail(ctx, err)
		}

		switch resp.Status {
		case binprot.StatusNoError:
			return a.transition(ctx, eventSucceed)
		case binprot.StatusAuthContinue:
			req = binprot.NewSaslStepRequest(PlainMechanism, resp.Value)
		default:
			return a.fail(ctx, &AuthError{Err: resp.Err()})
		}
	}

	return a.fail(ctx, &AuthError{Err: errors.New("too many sasl steps")})
}

func (a *authenticator) transition(ctx context.Context, event string) error {
	if err := a.machine.Event(ctx, event); err != nil {
		return &AuthError{Err: fmt.Errorf("sasl %s from state %s: %w", event, a.state(), err)}
	}
	return nil
}

func (a *authenticator) fail(ctx context.Context, cause error) error {
	if err := a.machine.Event(ctx, eventFail); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
