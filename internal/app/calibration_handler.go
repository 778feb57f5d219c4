package app

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the page is served from the device itself
	},
}

// Calibration phases in the order a session goes through them.
const (
	phaseAccelGyro = "accel_gyro"
	phaseMag       = "mag"
	phaseComplete  = "complete"
)

// WSMessage is sent by the calibration page.
type WSMessage struct {
	Action string `json:"action"` // init, next, cancel
}

// WSResponse is sent back to the calibration page.
type WSResponse struct {
	Type     string                 `json:"type"` // session, phase, progress, stats, action, complete, error
	Session  string                 `json:"session,omitempty"`
	Phase    string                 `json:"phase,omitempty"`
	Progress float64                `json:"progress,omitempty"`
	Stats    map[string]interface{} `json:"stats,omitempty"`
	Results  interface{}            `json:"results,omitempty"`
	Message  string                 `json:"message,omitempty"`
}

// calibrationSession is one websocket client driving the calibrator.
type calibrationSession struct {
	id    string
	conn  *websocket.Conn
	c     *calibrator
	phase string
}

func calibrationHandler(c *calibrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			c.logger.Warnf("calibration websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		s := &calibrationSession{id: uuid.NewString(), conn: conn, c: c}
		if !c.mu.TryLock() {
			s.sendError(errCalibrationBusy.Error())
			return
		}
		defer c.mu.Unlock()

		c.logger.Infof("calibration session %s opened from %s", s.id, r.RemoteAddr)
		s.serve(r.Context())
		c.logger.Infof("calibration session %s closed", s.id)
	}
}

func (s *calibrationSession) serve(ctx context.Context) {
	for {
		var msg WSMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.c.logger.Warnf("calibration session %s read error: %v", s.id, err)
			}
			return
		}

		switch msg.Action {
		case "init":
			s.c.reset()
			s.phase = ""
			s.conn.WriteJSON(WSResponse{Type: "session", Session: s.id})
		case "next":
			if err := s.next(ctx); err != nil {
				s.sendError(err.Error())
			}
		case "cancel":
			s.c.logger.Infof("calibration session %s cancelled", s.id)
			return
		default:
			s.sendError("unknown action " + msg.Action)
		}
	}
}

// next runs the phase after the current one.
func (s *calibrationSession) next(ctx context.Context) error {
	switch s.phase {
	case "":
		s.phase = phaseAccelGyro
		s.sendPhase(s.phase)
		if _, err := s.c.accelGyro(ctx, s.progress); err != nil {
			s.phase = ""
			return err
		}
		s.sendStats()
		s.sendActionReady()

	case phaseAccelGyro:
		s.phase = phaseMag
		s.sendPhase(s.phase)
		if _, err := s.c.mag(ctx, s.progress); err != nil {
			s.phase = phaseAccelGyro
			return err
		}
		s.sendStats()
		p, err := s.c.finish()
		if err != nil {
			return err
		}
		s.phase = phaseComplete
		s.conn.WriteJSON(WSResponse{Type: "complete", Session: s.id, Results: p})

	case phaseComplete:
		s.sendError("calibration already complete, send init to start over")
	}
	return nil
}

func (s *calibrationSession) progress(done, total int) {
	if done%10 != 0 && done != total {
		return
	}
	s.conn.WriteJSON(WSResponse{
		Type:     "progress",
		Phase:    s.phase,
		Progress: float64(done) / float64(total) * 100,
	})
}

func (s *calibrationSession) sendPhase(phase string) {
	s.conn.WriteJSON(WSResponse{Type: "phase", Phase: phase})
}

func (s *calibrationSession) sendStats() {
	s.conn.WriteJSON(WSResponse{Type: "stats", Stats: s.c.stats()})
}

func (s *calibrationSession) sendActionReady() {
	s.conn.WriteJSON(WSResponse{Type: "action", Message: "ready"})
}

func (s *calibrationSession) sendError(message string) {
	s.conn.WriteJSON(WSResponse{Type: "error", Message: message})
}
