package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/driver/goble"
	"github.com/srg/blecentral/internal/uuid"
	"github.com/srg/blecentral/pkg/config"
)

// newDriverFactory builds the link driver for a session (replaced in tests).
var newDriverFactory = func(cfg *config.Config) central.DriverFactory {
	return goble.NewDriverFactory(cfg.DriverOptions())
}

// session is a running connection manager whose events a command can wait on.
type session struct {
	mgr      *central.Manager
	listener *consoleListener
	events   chan sessionEvent
	done     chan struct{}
	out      io.Writer
	logger   *logrus.Logger
}

func openSession(cfg *config.Config, logger *logrus.Logger, out io.Writer, verbose bool) (*session, error) {
	w := &syncWriter{w: out}
	s := &session{
		events: make(chan sessionEvent, 1024),
		done:   make(chan struct{}),
		out:    w,
		logger: logger,
	}
	s.mgr = central.New(newDriverFactory(cfg), cfg.ManagerOptions(logger)...)

	s.listener = &consoleListener{out: w, events: s.events, verbose: verbose, done: s.done, logger: logger}
	if err := s.mgr.Init(s.listener, s.listener); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases a listener blocked on a full event channel before it waits
// for the manager to stop delivering.
func (s *session) Close() {
	close(s.done)
	if err := s.mgr.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to close connection manager")
	}
}

// waitFor consumes events until match reports done, match fails, or ctx ends.
func (s *session) waitFor(ctx context.Context, match func(sessionEvent) (bool, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			done, err := match(ev)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// connect finds address by scanning and brings the link up to Ready. It returns the
// peripheral id and the negotiated payload size.
func (s *session) connect(ctx context.Context, address string, timeout time.Duration) (string, int, error) {
	id := central.NormalizeID(address)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, known := s.mgr.Peripheral(id); !known {
		if err := s.mgr.ScanAll(); err != nil {
			return "", 0, err
		}
		err := s.waitFor(ctx, func(ev sessionEvent) (bool, error) {
			switch ev.Kind {
			case evDiscovered:
				return ev.Peripheral.ID == id, nil
			case evScanFailed:
				return false, fmt.Errorf("%w: %s", ErrScanFailed, ev.Code)
			}
			return false, nil
		})
		_ = s.mgr.StopScan()
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", 0, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
			}
			return "", 0, err
		}
	}

	if err := s.mgr.Connect(id); err != nil {
		return "", 0, err
	}

	size := 0
	err := s.waitFor(ctx, func(ev sessionEvent) (bool, error) {
		if ev.Peripheral.ID != id {
			return false, nil
		}
		switch ev.Kind {
		case evNegotiated:
			size = ev.Size
			return true, nil
		case evFailed:
			return false, fmt.Errorf("%w: %s", ErrConnectFailed, ev.Status)
		case evDisconnected:
			return false, fmt.Errorf("%w: %s", ErrConnectionLost, ev.Status)
		}
		return false, nil
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			_ = s.mgr.Disconnect(id)
			return "", 0, fmt.Errorf("%w: timed out after %s", ErrConnectFailed, timeout)
		}
		return "", 0, err
	}
	return id, size, nil
}

// disconnect tears the link down and waits briefly for the confirmation.
func (s *session) disconnect(id string, timeout time.Duration) {
	if err := s.mgr.Disconnect(id); err != nil {
		s.logger.WithError(err).WithField("address", id).Debug("Disconnect rejected")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = s.waitFor(ctx, func(ev sessionEvent) (bool, error) {
		return ev.Kind == evDisconnected && ev.Peripheral.ID == id, nil
	})
}

// charRef is a characteristic named on the command line as service:characteristic.
type charRef struct {
	Service string
	Char    string
}

func (c charRef) String() string {
	return c.Service + ":" + c.Char
}

func parseCharRef(s string) (charRef, error) {
	svc, char, ok := strings.Cut(s, ":")
	if !ok || svc == "" || char == "" {
		return charRef{}, fmt.Errorf("invalid characteristic %q: expected <service>:<characteristic>", s)
	}
	ids, err := uuid.Validate(svc, char)
	if err != nil {
		return charRef{}, fmt.Errorf("invalid characteristic %q: %w", s, err)
	}
	return charRef{Service: ids[0], Char: ids[1]}, nil
}

func parseCharRefs(values []string) ([]charRef, error) {
	refs := make([]charRef, 0, len(values))
	for _, v := range values {
		ref, err := parseCharRef(v)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
