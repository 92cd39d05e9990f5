package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/corymhall/proofsync/backend"
	"github.com/corymhall/proofsync/diagnostics"
	"github.com/corymhall/proofsync/extsync"
	"github.com/corymhall/proofsync/lsp"
	"github.com/corymhall/proofsync/schedule"
	"github.com/corymhall/proofsync/transport"
)

type Options struct {
	PersistWindow time.Duration
	NotifyWindow  time.Duration
	InfoWindow    time.Duration
	CompileWindow time.Duration
	// AutoCompile compiles after every edit once CompileWindow elapses.
	AutoCompile bool
	// RequestTimeout bounds each analysis request and bridge call.
	RequestTimeout time.Duration
	// CompileTimeout bounds a compile round trip.
	CompileTimeout time.Duration
	PollInterval   time.Duration
	// OpenEditor asks the bridge to open the temp file in an external
	// editor when external sync starts.
	OpenEditor bool
}

func (o *Options) setDefaults() {
	if o.PersistWindow <= 0 {
		o.PersistWindow = schedule.DefaultPersistWindow
	}
	if o.NotifyWindow <= 0 {
		o.NotifyWindow = schedule.DefaultNotifyWindow
	}
	if o.InfoWindow <= 0 {
		o.InfoWindow = schedule.DefaultInfoWindow
	}
	if o.CompileWindow <= 0 {
		o.CompileWindow = schedule.DefaultCompileWindow
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.CompileTimeout <= 0 {
		o.CompileTimeout = time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = extsync.DefaultPollInterval
	}
}

// Analyzer sends requests to the analysis service and delivers what it
// pushes. *transport.Transport implements it.
type Analyzer interface {
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
	OnNotification(method string, handler transport.NotificationHandler)
	OnStatus(fn func(online bool))
}

// Backend is the bridge. *backend.Client implements it.
type Backend interface {
	extsync.Source
	OpenAndSync(ctx context.Context, index int, content string) (lsp.DocumentURI, error)
	Update(ctx context.Context, index int, content string) error
	Compile(ctx context.Context, index int, content string) (*backend.CompileResult, error)
	PrepareExternalEdit(ctx context.Context, index int, content string, openEditor bool) error
}

// Display renders session state for the user.
type Display interface {
	SetMarkers(uri lsp.DocumentURI, markers []diagnostics.Marker)
	SetOnline(online bool)
	SetInfo(text string)
	SetStatus(text string)
	// SetContent shows content that replaced the buffer from outside the
	// editor.
	SetContent(content string)
}
