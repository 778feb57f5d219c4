package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/edaniels/golog"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/inertial_ahrs/internal/config"
	"github.com/relabs-tech/inertial_ahrs/internal/fusion"
)

// latest keeps the most recent value of one topic. seq increases on every
// set so streams can tell whether anything new arrived.
type latest[T any] struct {
	mu  sync.RWMutex
	v   T
	seq uint64
}

func (l *latest[T]) set(v T) {
	l.mu.Lock()
	l.v = v
	l.seq++
	l.mu.Unlock()
}

func (l *latest[T]) get() (T, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.v, l.seq
}

// subscribeLatest stores every decoded message on topic into l.
func subscribeLatest[T any](client mqtt.Client, topic string, l *latest[T], logger golog.Logger) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			logger.Warnf("%s unmarshal error: %v", topic, err)
			return
		}
		l.set(v)
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	logger.Infof("subscribed to %s", topic)
	return nil
}

// latestHandler serves the latest value as JSON, or 503 before the first.
func latestHandler[T any](l *latest[T], logger golog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, seq := l.get()
		if seq == 0 {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Warnf("json encode error: %v", err)
		}
	}
}

// streamHandler pushes every new fused output to a websocket client,
// checking for updates at the given period.
func streamHandler(l *latest[fusion.Output], period time.Duration, logger golog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnf("orientation websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		// Reads only detect the close.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		var sent uint64
		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
			out, seq := l.get()
			if seq == sent {
				continue
			}
			sent = seq
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteJSON(out); err != nil {
				logger.Debugf("orientation stream closed: %v", err)
				return
			}
		}
	}
}

// serveHTTP runs srv until ctx is done, then shuts it down.
func serveHTTP(ctx context.Context, addr string, h http.Handler, logger golog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h}
	errc := make(chan error, 1)
	go func() {
		logger.Infof("web server listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunWeb serves the latest fused orientation, calibration and declination
// from MQTT, a websocket stream of the orientation and the static page
// under ./web.
func RunWeb(ctx context.Context) error {
	logger := golog.NewLogger("web")
	defer logger.Sync()
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	var (
		orientation latest[fusion.Output]
		calib       latest[calibrationMessage]
		decl        latest[declinationMessage]
	)
	if err := subscribeLatest(client, cfg.TopicPoseFused, &orientation, logger); err != nil {
		return err
	}
	if err := subscribeLatest(client, cfg.TopicCalibration, &calib, logger); err != nil {
		return err
	}
	if err := subscribeLatest(client, cfg.TopicDeclination, &decl, logger); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/api/orientation", latestHandler(&orientation, logger))
	mux.Handle("/api/calibration", latestHandler(&calib, logger))
	mux.Handle("/api/declination", latestHandler(&decl, logger))
	mux.Handle("/ws/orientation", streamHandler(&orientation, millis(cfg.IMUSampleInterval), logger))
	mux.Handle("/", http.FileServer(http.Dir("web")))

	return serveHTTP(ctx, fmt.Sprintf(":%d", cfg.WebServerPort), mux, logger)
}
