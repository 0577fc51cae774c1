package kernel

import "github.com/yproto/server/internal/hooks"

// Option sets one inline hook handler on the synthetic terminal extension
// every Kernel builds from its constructor arguments (spec §4.6.1: "Plus
// inline hook handlers... appended as a synthetic terminal extension").
// Extensions passed to New run first, at their own priority; inline
// handlers always run last.
type Option func(*hooks.Extension)

func WithOnConfigure(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnConfigure = fn }
}

func WithOnListen(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnListen = fn }
}

func WithOnUpgrade(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnUpgrade = fn }
}

func WithOnConnect(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnConnect = fn }
}

func WithOnAuthenticate(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnAuthenticate = fn }
}

func WithOnLoadDocument(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnLoadDocument = fn }
}

func WithAfterLoadDocument(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.AfterLoadDocument = fn }
}

func WithBeforeHandleMessage(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.BeforeHandleMessage = fn }
}

func WithBeforeBroadcastStateless(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.BeforeBroadcastStateless = fn }
}

func WithOnStateless(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnStateless = fn }
}

func WithOnChange(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnChange = fn }
}

func WithOnStoreDocument(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnStoreDocument = fn }
}

func WithAfterStoreDocument(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.AfterStoreDocument = fn }
}

func WithOnAwarenessUpdate(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnAwarenessUpdate = fn }
}

func WithOnRequest(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnRequest = fn }
}

func WithOnDisconnect(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnDisconnect = fn }
}

func WithOnDestroy(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.OnDestroy = fn }
}

func WithConnected(fn hooks.HandlerFunc) Option {
	return func(e *hooks.Extension) { e.Connected = fn }
}
