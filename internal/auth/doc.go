// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

/*
Package auth resolves the principal of an admin API request.

Bastion does not issue identities. It trusts one of two sources:

  - JWTAuthenticator: an HS256 bearer token whose sub claim is the
    principal. Enabled when JWT_SECRET is set; JWT_ISSUER adds an iss check.
  - HeaderAuthenticator: an X-Principal-ID header set by a trusted gateway.
    Used when no secret is configured.

Middleware puts the principal into the request context via
logging.ContextWithPrincipal, where the authorization layer and
logging.Ctx both find it.

Usage:

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
	    return err
	}
	r.Use(auth.Middleware(auth.NewJWTAuthenticator(jwtManager), onUnauthorized))
*/
package auth
