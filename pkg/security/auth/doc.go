/*
Package auth provides API key authentication for the gateway's admin
surface.

Keys are configured by name and held only as SHA-256 digests. A request is
authenticated when any configured source carries a key whose digest matches.

	validator := auth.NewValidator(map[string]string{
		"ops": "admin-key-0123456789",
	})
	mw := auth.NewMiddleware(validator, auth.DefaultSources(), logger, nil)
	router.With(mw.Handle).Get("/admin/config", handler)

The default sources are the Authorization header with the Bearer scheme and
the X-Aimux-Admin-Key header. Query parameters are deliberately not a default
source since URLs end up in access logs.

The authenticated key name is stored in the request context and can be read
with KeyNameFromContext.
*/
package auth
