// Package db embeds the database schema.
package db

import _ "embed"

// Schema contains the idempotent DDL for all application tables and the
// order change notification trigger.
//
//go:embed migrations/001_schema.sql
var Schema string

// OrderChangesChannel is the LISTEN channel the schema trigger notifies with
// the order number of every inserted or updated order.
const OrderChangesChannel = "order_changes"
