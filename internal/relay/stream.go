package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"courier/internal/domain"
	"courier/internal/transport"
)

const writeTimeout = 10 * time.Second

// handleStream upgrades to a websocket and delivers the account's queue.
// Every envelope is written once per stream and stays queued until the
// client acks it. After the backlog present at connect time has been
// written the relay sends one empty frame; later envelopes follow live.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(r.Header.Get(transport.HeaderUsername))
	if user == "" {
		http.Error(w, "missing "+transport.HeaderUsername, http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logrus.WithField("function", "handleStream").WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	log := logrus.WithFields(logrus.Fields{
		"function": "handleStream",
		"username": user,
		"device":   r.Header.Get(transport.HeaderDevice),
	})
	log.Info("Stream opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readAcks(ctx, cancel, conn, user, log)

	sent := make(map[string]bool)
	announced := false
	for {
		pending, changed := s.unsent(user, sent)
		for _, q := range pending {
			env := q.env
			if err := writeFrame(ctx, conn, transport.Frame{Type: transport.FrameEnvelope, ID: q.id, Envelope: &env}); err != nil {
				log.WithError(err).Debug("Stream write failed")
				return
			}
			sent[q.id] = true
		}
		if !announced {
			if err := writeFrame(ctx, conn, transport.Frame{Type: transport.FrameEmpty}); err != nil {
				log.WithError(err).Debug("Stream write failed")
				return
			}
			announced = true
		}

		select {
		case <-changed:
		case <-ctx.Done():
			log.Info("Stream closed")
			return
		}
	}
}

// readAcks consumes client frames until the stream fails, then cancels the
// writer.
func (s *Server) readAcks(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	user domain.Username,
	log *logrus.Entry,
) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.WithError(err).Debug("Stream read failed")
			}
			return
		}
		var f transport.Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Type != transport.FrameAck {
			log.Warn("Ignoring unexpected frame from client")
			continue
		}
		if !s.ack(user, f.ID) {
			log.WithField("id", f.ID).Debug("Ack for unknown envelope")
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f transport.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}
