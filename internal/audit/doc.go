// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

// Package audit records every authorization decision and administrative
// change, detects security incidents inline and produces reports.
//
// # Overview
//
// The audit system provides:
//   - An append-only, bounded in-memory log with retention enforcement
//   - Archival of evicted entries through an Archiver (Badger in production)
//   - Inline incident detection on every write
//   - Incident lifecycle tracking
//   - Audit, compliance and security summary reports
//   - JSON, CSV and CEF export for SIEM integration
//
// # Detectors
//
// Every entry passes through the detectors before LogAuditEvent returns:
//
//	BRUTE_FORCE_ATTEMPT      high    >= 5 failures, same user and action, 1h
//	ABNORMAL_ACCESS_PATTERN  medium  granted access at an unusual time for a
//	                                 rarely used action
//	SENSITIVE_OPERATION      high    role.deleted or permission.revoked
//
// A brute-force incident is raised once per user and action; later failures
// inside its window are attached as occurrences. Resolving or closing an
// incident never reopens it, and failures up to the resolution time are not
// counted toward a new one.
//
// # Incident Lifecycle
//
//	open -> investigating -> resolved -> closed
//	open -> resolved | closed
//	investigating -> closed
//
// Closed is terminal.
//
// # Thread Safety
//
// Logger is safe for concurrent use. Writes, detection and incident updates
// are serialized; queries take a read lock on the entry store.
package audit
