package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apaul10-dot/Project-Alpha/internal/pages"
	"github.com/apaul10-dot/Project-Alpha/internal/wire"
)

// PageProvider renders the pages and assets served to phones.
type PageProvider interface {
	Page(route string) (pages.Page, bool)
	Asset(name string) (pages.Page, bool)
}

type handlers struct {
	hub       *Hub
	pages     PageProvider
	profiles  *ProfileStore
	settings  *Settings
	metrics   *Metrics
	logger    *zap.Logger
	heartbeat time.Duration
}

const textPlain = "text/plain"

var (
	successBody = []byte(`{"success":true}`)
	failureBody = []byte(`{"success":false}`)
)

func (h *handlers) page(route string) HandlerFunc {
	return func(ctx context.Context, ex *Exchange) {
		page, ok := h.pages.Page(route)
		if !ok {
			h.notFound(ctx, ex)
			return
		}
		h.write(ex, ex.Response.WriteText(200, "OK", page.ContentType, page.Body))
	}
}

func (h *handlers) health(_ context.Context, ex *Exchange) {
	h.write(ex, ex.Response.WriteText(200, "OK", textPlain, []byte("ok")))
}

func (h *handlers) notFound(_ context.Context, ex *Exchange) {
	h.metrics.incr(metricRequestsNotFound, 1)
	h.logger.Debug("Route not found",
		zap.String("method", ex.Request.Method),
		zap.String("path", ex.Request.Path))
	h.write(ex, ex.Response.WriteText(404, "Not Found", textPlain, []byte("Not Found")))
}

// send publishes the submitted text as a phone message. Blank text is
// accepted and ignored.
func (h *handlers) send(_ context.Context, ex *Exchange) {
	form := wire.DecodeForm(ex.Request.Body)
	text, _ := form.Get("text")

	if strings.TrimSpace(text) != "" {
		msg := NewMessage(RolePhone, text)
		if avatar, ok := form.Get("avatar"); ok {
			msg.Avatar = &avatar
		}
		if name, ok := form.Get("name"); ok {
			msg.Name = &name
		}

		if err := h.hub.Publish(msg); err != nil {
			h.logger.Warn("Dropping phone message", zap.Error(err))
		} else {
			h.logger.Info(msg.String())
		}
	}

	h.write(ex, ex.Response.WriteNoContent())
}

func (h *handlers) saveProfile(_ context.Context, ex *Exchange) {
	form := wire.DecodeForm(ex.Request.Body)
	avatar, okAvatar := form.Get("avatar")
	name, okName := form.Get("name")
	sessionID, okSession := form.Get("sessionId")

	if !okAvatar || !okName || !okSession {
		h.write(ex, ex.Response.WriteText(400, "Bad Request", "application/json", failureBody))
		return
	}

	h.profiles.Put(sessionID, Profile{Name: name, Avatar: avatar})
	h.logger.Info("Profile updated",
		zap.String("name", name),
		zap.String("avatar", avatar),
		zap.Int("profiles", h.profiles.Len()))
	h.write(ex, ex.Response.WriteText(200, "OK", "application/json", successBody))
}

func (h *handlers) saveSettings(_ context.Context, ex *Exchange) {
	form := wire.DecodeForm(ex.Request.Body)
	setting, okSetting := form.Get("setting")
	value, okValue := form.Get("value")

	if !okSetting || !okValue {
		h.write(ex, ex.Response.WriteText(400, "Bad Request", "application/json", failureBody))
		return
	}

	if !h.settings.Update(setting, value) {
		h.logger.Debug("Ignoring unknown setting", zap.String("setting", setting))
	}
	h.write(ex, ex.Response.WriteText(200, "OK", "application/json", successBody))
}

func (h *handlers) asset(ctx context.Context, ex *Exchange) {
	name := strings.TrimPrefix(ex.Request.Path, "/assets/")
	asset, ok := h.pages.Asset(name)
	if !ok {
		h.notFound(ctx, ex)
		return
	}

	rw := ex.Response
	_ = rw.WriteStatus(200, "OK")
	_ = rw.WriteHeader("Date", rw.Date())
	_ = rw.WriteHeader("Content-Type", asset.ContentType)
	_ = rw.WriteHeader("Content-Length", strconv.Itoa(len(asset.Body)))
	_ = rw.WriteHeader("Cache-Control", "public, max-age=3600")
	h.write(ex, rw.WriteBody(asset.Body))
}

// events turns the connection into a subscriber and blocks until it is
// removed from the hub.
func (h *handlers) events(ctx context.Context, ex *Exchange) {
	stream, err := ex.Response.BeginStream()
	if err != nil {
		h.logger.Debug("Failed to start event stream", zap.String("addr", ex.RemoteAddr), zap.Error(err))
		return
	}

	// Streams live until the client goes away.
	_ = ex.conn.SetReadDeadline(time.Time{})

	sub := NewSubscriber(stream, ex.RemoteAddr)
	if err := h.hub.Register(sub); err != nil {
		h.logger.Debug("Rejecting event stream", zap.String("addr", ex.RemoteAddr), zap.Error(err))
		return
	}

	go h.watchClose(ex, sub)
	if h.heartbeat > 0 {
		go h.keepAlive(stream, sub)
	}

	err = h.hub.Serve(ctx, sub)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		h.logger.Debug("Event stream closed", zap.String("addr", ex.RemoteAddr))
	default:
		h.logger.Debug("Event stream ended", zap.String("addr", ex.RemoteAddr), zap.Error(err))
	}
}

// watchClose removes sub once the client closes its side of the connection.
// SSE clients never send anything after the request.
func (h *handlers) watchClose(ex *Exchange, sub *Subscriber) {
	_, _ = io.Copy(io.Discard, ex.reader)
	if h.hub.Remove(sub) {
		h.logger.Debug("Event stream client disconnected", zap.String("addr", ex.RemoteAddr))
	}
}

// keepAlive writes an SSE comment every heartbeat until sub is removed.
func (h *handlers) keepAlive(stream *wire.Stream, sub *Subscriber) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-sub.Done():
			return
		case <-ticker.C:
			if err := stream.WriteComment("ping"); err != nil {
				if h.hub.Remove(sub) {
					h.metrics.incr(metricSubscribersPruned, 1)
					h.logger.Debug("Event stream heartbeat failed", zap.String("addr", sub.Addr()), zap.Error(err))
				}
				return
			}
		}
	}
}

func (h *handlers) write(ex *Exchange, err error) {
	if err != nil && !isExpectedCloseError(err) {
		h.logger.Debug("Error writing response",
			zap.String("path", ex.Request.Path),
			zap.String("addr", ex.RemoteAddr),
			zap.Error(err))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
