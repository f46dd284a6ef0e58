package market

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Stream is the websocket session the feed drives.
type Stream interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Run(ctx context.Context, handler func(json.RawMessage)) error
}

// PositionSink receives pushed position updates from the private stream.
type PositionSink interface {
	ApplyStream(updates []PositionUpdate)
}

type Feed struct {
	stream    Stream
	store     *Store
	positions PositionSink
	private   bool
	log       *zap.Logger
	now       func() time.Time
}

func NewFeed(stream Stream, store *Store, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{stream: stream, store: store, log: log, now: time.Now}
}

// EnablePositions subscribes to the private position stream on Start.
// The stream must be authenticated.
func (f *Feed) EnablePositions(sink PositionSink) {
	f.positions = sink
	f.private = sink != nil
}

func TickerChannel(instrument string) string { return "ticker:" + instrument }

func BookChannel(instrument string) string { return "bestBidAsk:" + instrument }

const positionChannel = "position:all"

// Start subscribes tickers for the whole universe plus the top of book for
// the initial selection, then runs the stream until ctx is done.
func (f *Feed) Start(ctx context.Context, selection []string) error {
	channels := make([]string, 0, len(f.store.Universe())+len(selection)+1)
	if f.private {
		channels = append(channels, positionChannel)
	}
	for _, inst := range f.store.Universe() {
		channels = append(channels, TickerChannel(inst))
	}
	for _, inst := range selection {
		channels = append(channels, BookChannel(inst))
	}
	if err := f.stream.Subscribe(ctx, channels...); err != nil {
		return err
	}
	return f.stream.Run(ctx, f.handleMessage)
}

// UpdateSelection applies a selection delta to the top of book subscriptions.
func (f *Feed) UpdateSelection(ctx context.Context, add, remove []string) error {
	if len(remove) > 0 {
		channels := make([]string, 0, len(remove))
		for _, inst := range remove {
			channels = append(channels, BookChannel(inst))
		}
		if err := f.stream.Unsubscribe(ctx, channels...); err != nil {
			return err
		}
	}
	if len(add) > 0 {
		channels := make([]string, 0, len(add))
		for _, inst := range add {
			channels = append(channels, BookChannel(inst))
		}
		if err := f.stream.Subscribe(ctx, channels...); err != nil {
			return err
		}
	}
	return nil
}

func (f *Feed) handleMessage(msg json.RawMessage) {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		f.log.Debug("ws decode error", zap.Error(err))
		return
	}
	if event := stringFromAny(payload["event"]); event != "" {
		f.handleEvent(event, payload)
		return
	}
	now := f.now()
	switch stringFromAny(payload["table"]) {
	case "bestBidAsk":
		if update, ok := parseBestBidAsk(payload); ok {
			f.store.ApplyBook(update, now)
		}
	case "ticker":
		for _, update := range parseTickers(payload) {
			f.store.ApplyTicker(update, now)
		}
	case "position":
		if f.positions != nil {
			if updates := parsePositions(payload); len(updates) > 0 {
				f.positions.ApplyStream(updates)
			}
		}
	}
}

func (f *Feed) handleEvent(event string, payload map[string]any) {
	success, _ := payload["success"].(bool)
	switch event {
	case "login":
		if success {
			f.log.Info("ws login accepted")
		} else {
			f.log.Warn("ws login rejected", zap.String("message", stringFromMap(payload, "message")))
		}
	case "subscribe", "unsubscribe":
		if !success {
			f.log.Warn("ws "+event+" rejected",
				zap.String("channel", stringFromMap(payload, "channel")),
				zap.String("message", stringFromMap(payload, "message")))
			return
		}
		f.log.Debug("ws "+event, zap.String("channel", stringFromMap(payload, "channel")))
	}
}
