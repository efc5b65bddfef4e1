// Package session implements the SessionServer of spec.md §4.7: the
// registration-pipe HostThread, the bounded admission Ring, the pool of
// session workers handling CONNECT/DISCONNECT/SUBSCRIBE/UNSUBSCRIBE, and
// the ActiveSessions set SIGUSR1 resets force-close.
package session

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/kvsd/internal/fifo"
	"github.com/adred-codev/kvsd/internal/logging"
	"github.com/adred-codev/kvsd/internal/metrics"
	"github.com/adred-codev/kvsd/internal/protocol"
	"github.com/adred-codev/kvsd/internal/subscription"
)

// Config bundles the static parameters a Server needs beyond its
// collaborators.
type Config struct {
	RegisterPipePath string
	Sizes            protocol.Sizes
	SessionCap       int
	AcceptBurst      int
	AcceptRate       float64
}

// Server is the SessionServer: one HostThread goroutine plus a pool of
// session worker goroutines, all sharing a Ring, a SubscriptionRegistry,
// and an ActiveSessions set.
type Server struct {
	cfg     Config
	subs    *subscription.Registry
	metrics *metrics.Metrics
	logger  zerolog.Logger

	ring    *Ring
	active  *ActiveSessions
	limiter *rate.Limiter

	regFile *os.File
	wg      sync.WaitGroup
}

// New builds a Server whose admission Ring holds up to cfg.SessionCap
// pending connection records.
func New(cfg Config, subs *subscription.Registry, m *metrics.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		subs:    subs,
		metrics: m,
		logger:  logger,
		ring:    NewRing(cfg.SessionCap),
		active:  NewActiveSessions(),
		limiter: rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst),
	}
}

// Reset performs the SIGUSR1 reset (spec.md §4.8 scenario 6): it resets
// the subscription registry and force-closes every active session. It is
// meant to be invoked directly from a signalctl.Controller callback —
// not polled by the HostThread, which spends nearly all its time parked
// in an uninterruptible fifo.ReadFull and would otherwise defer the reset
// until the next registration frame arrives (or never see it at all).
func (s *Server) Reset() {
	s.subs.ResetAll()
	s.active.ForceCloseAll()
	if s.metrics != nil {
		s.metrics.SIGUSR1Resets.Inc()
	}
}

// Start opens the registration FIFO read-write, launches the session
// worker pool, and starts the HostThread loop. workers is the session
// worker pool size (spec.md suggests it track the session cap S so every
// admitted connection can be serviced concurrently). ctx cancellation
// triggers shutdown.
func (s *Server) Start(ctx context.Context, workers int) error {
	regFile, err := fifo.OpenReadWrite(s.cfg.RegisterPipePath)
	if err != nil {
		return err
	}
	s.regFile = regFile

	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.sessionWorker(i)
	}

	go s.hostLoop(ctx)
	return nil
}

// Stop closes the registration pipe, which unblocks the HostThread's
// in-flight read so it can observe ctx cancellation and exit.
func (s *Server) Stop() {
	if s.regFile != nil {
		s.regFile.Close()
	}
}

// ActiveSessionCount reports the number of currently open sessions.
func (s *Server) ActiveSessionCount() int {
	return s.active.Count()
}

func (s *Server) hostLoop(ctx context.Context) {
	defer logging.RecoverPanic(s.logger, "session.hostLoop", nil)

	buf := make([]byte, s.cfg.Sizes.ConnectionFrameLen())
	for {
		if ctx.Err() != nil {
			return
		}

		if err := fifo.ReadFull(s.regFile, buf); err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				continue
			}
			s.logger.Warn().Err(err).Msg("malformed registration frame, discarding")
			if s.metrics != nil {
				s.metrics.SessionsRejected.Inc()
			}
			continue
		}

		rec, err := protocol.DecodeConnectionFrame(s.cfg.Sizes, buf)
		if err != nil {
			if s.metrics != nil {
				s.metrics.SessionsRejected.Inc()
			}
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		s.ring.Put(rec)
		if s.metrics != nil {
			s.metrics.SessionsAccepted.Inc()
			s.metrics.RingBufferOccupancy.Set(float64(s.ring.Occupancy()))
		}
	}
}

// sessionWorker consumes ConnectionRecords for the server's lifetime —
// like the original's client-handler threads, it never shuts down
// gracefully mid-session; the process exit (or a future drain signal)
// ends it.
func (s *Server) sessionWorker(id int) {
	defer s.wg.Done()
	defer logging.RecoverPanic(s.logger, "session.worker", map[string]any{"worker_id": id})

	for {
		rec := s.ring.Take()
		s.handleSession(rec)
	}
}

func (s *Server) handleSession(rec protocol.ConnectionRecord) {
	req, err := fifo.OpenReadOnly(rec.RequestPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", rec.RequestPath).Msg("failed to open request pipe")
		return
	}

	resp, err := fifo.OpenWriteOnly(rec.ResponsePath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", rec.ResponsePath).Msg("failed to open response pipe")
		req.Close()
		return
	}

	notif, err := fifo.OpenWriteOnly(rec.NotificationPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", rec.NotificationPath).Msg("failed to open notification pipe")
		fifo.WriteFull(resp, protocol.EncodeResponse(protocol.OpConnect, protocol.ResultOtherError))
		req.Close()
		resp.Close()
		return
	}

	if err := fifo.WriteFull(resp, protocol.EncodeResponse(protocol.OpConnect, protocol.ResultSuccess)); err != nil {
		req.Close()
		resp.Close()
		notif.Close()
		return
	}

	h := &handle{req: req, resp: resp, notif: notif}
	s.active.add(h)
	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
	}
	sink := subscription.NewSink(notif, s.cfg.Sizes)

	defer func() {
		s.subs.DrainForHandle(sink)
		s.active.remove(h)
		if s.metrics != nil {
			s.metrics.SessionsActive.Dec()
		}
		h.closeAll()
	}()

	s.requestLoop(req, resp, sink)
}

// requestLoop implements spec.md §4.7 step 5.
func (s *Server) requestLoop(req, resp *os.File, sink *subscription.Sink) {
	opBuf := make([]byte, 1)
	keyBuf := make([]byte, s.cfg.Sizes.MaxStringSize)

	for {
		if err := fifo.ReadFull(req, opBuf); err != nil {
			return
		}

		switch opBuf[0] {
		case protocol.OpDisconnect:
			s.subs.DrainForHandle(sink)
			fifo.WriteFull(resp, protocol.EncodeResponse(protocol.OpDisconnect, protocol.ResultSuccess))
			return

		case protocol.OpSubscribe:
			if err := fifo.ReadFull(req, keyBuf); err != nil {
				return
			}
			key, err := protocol.DecodeSubscribeRequest(s.cfg.Sizes, keyBuf)
			if err != nil {
				continue
			}
			outcome, err := s.subs.SubscribeKey(key, sink)
			result := subscribeResult(outcome, err)
			if err := fifo.WriteFull(resp, protocol.EncodeResponse(protocol.OpSubscribe, result)); err != nil {
				return
			}

		case protocol.OpUnsubscribe:
			if err := fifo.ReadFull(req, keyBuf); err != nil {
				return
			}
			key, err := protocol.DecodeSubscribeRequest(s.cfg.Sizes, keyBuf)
			if err != nil {
				continue
			}
			outcome, err := s.subs.UnsubscribeKey(key, sink)
			result := unsubscribeResult(outcome, err)
			if err := fifo.WriteFull(resp, protocol.EncodeResponse(protocol.OpUnsubscribe, result)); err != nil {
				return
			}

		default:
			s.logger.Warn().Uint8("op_code", opBuf[0]).Msg("unknown request op code")
		}
	}
}

// subscribeResult maps a subscribe Outcome to the response byte
// convention fixed by spec.md §9: 0=success, 1=key-absent, 2=other-error.
func subscribeResult(outcome subscription.Outcome, err error) byte {
	if err != nil {
		return protocol.ResultOtherError
	}
	switch outcome {
	case subscription.Accepted:
		return protocol.ResultSuccess
	case subscription.KeyAbsent:
		return protocol.ResultKeyAbsent
	default: // Duplicate
		return protocol.ResultOtherError
	}
}

// unsubscribeResult is the same convention applied to unsubscribe.
func unsubscribeResult(outcome subscription.Outcome, err error) byte {
	if err != nil {
		return protocol.ResultOtherError
	}
	switch outcome {
	case subscription.Removed:
		return protocol.ResultSuccess
	case subscription.KeyAbsent:
		return protocol.ResultKeyAbsent
	default: // NotSubscribed
		return protocol.ResultOtherError
	}
}
