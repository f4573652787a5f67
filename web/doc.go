// Package web serves the single-page bundle and the JSON API it binds to.
//
// Each browser is a browsing context identified by the mp_client cookie. The
// [Registry] keeps one controller per context, initialized on first use and
// torn down after an idle period. Guarded API routes consult the controller's
// guard status through middleware.Guard; view paths go through the same
// policy before index.html is served.
package web
