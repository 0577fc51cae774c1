// Package hooks implements the extension/hook pipeline: a named, ordered
// sequence of extensions where each named hook runs its handlers
// sequentially and any handler failure aborts the chain.
package hooks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
)

// Name identifies one of the lifecycle hooks an Extension may implement.
type Name string

const (
	OnConfigure             Name = "onConfigure"
	OnListen                Name = "onListen"
	OnUpgrade               Name = "onUpgrade"
	OnConnect               Name = "onConnect"
	OnAuthenticate          Name = "onAuthenticate"
	OnLoadDocument          Name = "onLoadDocument"
	AfterLoadDocument       Name = "afterLoadDocument"
	BeforeHandleMessage     Name = "beforeHandleMessage"
	BeforeBroadcastStateless Name = "beforeBroadcastStateless"
	OnStateless             Name = "onStateless"
	OnChange                Name = "onChange"
	OnStoreDocument         Name = "onStoreDocument"
	AfterStoreDocument      Name = "afterStoreDocument"
	OnAwarenessUpdate       Name = "onAwarenessUpdate"
	OnRequest               Name = "onRequest"
	OnDisconnect            Name = "onDisconnect"
	OnDestroy               Name = "onDestroy"
	Connected               Name = "connected"
)

// HandlerError is returned by a hook handler to signal failure. Code and
// Reason are surfaced to the caller so the Kernel can pick the correct close
// code / PermissionDenied reason (spec §7, §4.6.2).
type HandlerError struct {
	Code    uint16
	Reason  string
	Message string
	Hook    Name
}

func (e *HandlerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Hook, e.Message)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Hook, e.Reason)
	}
	return fmt.Sprintf("%s: rejected", e.Hook)
}

// LoadKind tags the variant of value an onLoadDocument handler returns,
// replacing the source's duck-typed "constructor.name == Document" check
// (spec Design Notes) with an explicit tagged union.
type LoadKind int

const (
	LoadKindNone LoadKind = iota
	LoadKindDoc
	LoadKindUpdate
)

// LoadResult is the explicit return value of an onLoadDocument handler.
type LoadResult struct {
	Kind   LoadKind
	Update []byte // valid when Kind == LoadKindUpdate
	Doc    any    // valid when Kind == LoadKindDoc; a *crdtdoc.Doc in practice
}

// Payload carries everything a hook handler may need (spec §3 HookPayload).
type Payload struct {
	Context context.Context

	Instance any // server instance handle, opaque to hooks package

	Request           *http.Request
	RequestHeaders    http.Header
	RequestParameters url.Values

	SocketID string

	// ResponseWriter is populated only for onRequest: a handler writes its
	// own response through it (spec §6, "if no hook writes a response, the
	// default is 200 OK with body OK").
	ResponseWriter http.ResponseWriter

	ConnConfig *ConnectionConfiguration

	// HookContext accumulates return values from onConnect/onAuthenticate.
	HookContext map[string]any

	DocumentName string
	Document     any // *document.Document, opaque to avoid an import cycle
	ClientsCount int
	Update       []byte

	// Token is populated only for onAuthenticate.
	Token string

	// Error carries the error passed to onDisconnect, if any.
	Error error
}

// ConnectionConfiguration is the handshake-scoped record mutable by hooks
// during the handshake (spec §3).
type ConnectionConfiguration struct {
	ReadOnly              bool
	RequiresAuthentication bool
	IsAuthenticated       bool
}

// HandlerFunc is the signature every named hook handler implements. It may
// return a value (merged into context by the caller's perHookCallback) or an
// error to abort the chain.
type HandlerFunc func(ctx context.Context, payload *Payload) (any, error)

// Extension is a named, prioritized bundle of hook handlers. Only the
// handlers relevant to this Extension need to be non-nil.
type Extension struct {
	Name     string
	Priority int // default 100; higher runs first

	OnConfigure              HandlerFunc
	OnListen                 HandlerFunc
	OnUpgrade                HandlerFunc
	OnConnect                HandlerFunc
	OnAuthenticate           HandlerFunc
	OnLoadDocument           HandlerFunc
	AfterLoadDocument        HandlerFunc
	BeforeHandleMessage      HandlerFunc
	BeforeBroadcastStateless HandlerFunc
	OnStateless              HandlerFunc
	OnChange                 HandlerFunc
	OnStoreDocument          HandlerFunc
	AfterStoreDocument       HandlerFunc
	OnAwarenessUpdate        HandlerFunc
	OnRequest                HandlerFunc
	OnDisconnect             HandlerFunc
	OnDestroy                HandlerFunc
	Connected                HandlerFunc
}

func (e *Extension) priority() int {
	if e.Priority == 0 {
		return 100
	}
	return e.Priority
}

func (e *Extension) handler(name Name) HandlerFunc {
	switch name {
	case OnConfigure:
		return e.OnConfigure
	case OnListen:
		return e.OnListen
	case OnUpgrade:
		return e.OnUpgrade
	case OnConnect:
		return e.OnConnect
	case OnAuthenticate:
		return e.OnAuthenticate
	case OnLoadDocument:
		return e.OnLoadDocument
	case AfterLoadDocument:
		return e.AfterLoadDocument
	case BeforeHandleMessage:
		return e.BeforeHandleMessage
	case BeforeBroadcastStateless:
		return e.BeforeBroadcastStateless
	case OnStateless:
		return e.OnStateless
	case OnChange:
		return e.OnChange
	case OnStoreDocument:
		return e.OnStoreDocument
	case AfterStoreDocument:
		return e.AfterStoreDocument
	case OnAwarenessUpdate:
		return e.OnAwarenessUpdate
	case OnRequest:
		return e.OnRequest
	case OnDisconnect:
		return e.OnDisconnect
	case OnDestroy:
		return e.OnDestroy
	case Connected:
		return e.Connected
	default:
		return nil
	}
}

// Pipeline is the sorted, configured set of extensions for a server
// instance. Sort once at configuration time (spec §4.1).
type Pipeline struct {
	extensions []*Extension
}

// NewPipeline sorts extensions by descending priority; ties keep their
// original relative order (stable sort), and a synthetic terminal extension
// built from inline handlers is expected to already be the last element of
// extensions passed in with the lowest priority (spec §4.6.1).
func NewPipeline(extensions []*Extension) *Pipeline {
	sorted := make([]*Extension, len(extensions))
	copy(sorted, extensions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority() > sorted[j].priority()
	})
	return &Pipeline{extensions: sorted}
}

// PerHookCallback receives a handler's return value immediately after it
// resolves, before the next handler in the chain runs.
type PerHookCallback func(result any) error

// Run executes every extension's handler for name in order. Handler n+1
// never starts before handler n resolves or rejects (spec's serialization
// invariant). The chain stops on the first error.
func (p *Pipeline) Run(ctx context.Context, name Name, payload *Payload, cb PerHookCallback) error {
	for _, ext := range p.extensions {
		h := ext.handler(name)
		if h == nil {
			continue
		}
		result, err := h(ctx, payload)
		if err != nil {
			if he, ok := err.(*HandlerError); ok {
				he.Hook = name
				return he
			}
			return fmt.Errorf("hook %s (%s): %w", name, ext.Name, err)
		}
		if cb != nil {
			if err := cb(result); err != nil {
				return err
			}
		}
	}
	return nil
}

// MergeContext is the default PerHookCallback for hooks whose return value
// is a partial context record (onConnect, onAuthenticate) to be merged into
// payload.HookContext.
func MergeContext(payload *Payload) PerHookCallback {
	return func(result any) error {
		if result == nil {
			return nil
		}
		patch, ok := result.(map[string]any)
		if !ok {
			return nil
		}
		if payload.HookContext == nil {
			payload.HookContext = make(map[string]any)
		}
		for k, v := range patch {
			payload.HookContext[k] = v
		}
		return nil
	}
}
