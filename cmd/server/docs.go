// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

// Package main provides the work coordinator's admin HTTP API.
//
// @title Work Coordinator Admin API
// @version 1.0
// @description Operator-facing HTTP surface over the work coordinator's
// @description dead-letter outbox/inbox tables and CQRS checkpoints.
// @description
// @description ## Authentication
// @description
// @description Exchange an operator name and API key for a bearer token via
// @description POST /api/v1/login, then send it as `Authorization: Bearer <token>`.
// @description
// @description ## Authorization
// @description
// @description Routes are gated by Casbin RBAC: the "viewer" role may read
// @description dead-letter rows and checkpoints; the "operator" role may also
// @description retry dead-lettered messages and force-advance a checkpoint.
// @description
// @description ## Rate Limiting
// @description
// @description Configurable per-IP rate limit (default: 100 requests per minute).
//
// @contact.name GitHub Repository
// @contact.url https://github.com/tomtom215/workcoordinator/issues
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @BasePath /api/v1
// @schemes http https
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer token obtained from POST /api/v1/login.
//
// @tag.name dead-letter
// @tag.description List and retry dead-lettered outbox/inbox rows
//
// @tag.name checkpoints
// @tag.description Inspect and force-advance CQRS perspective checkpoints
//
// @tag.name auth
// @tag.description Operator login
package main
