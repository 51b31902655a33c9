// Package catalog loads network definitions.
//
// A Source fetches one network by id: DirSource reads <dir>/<id>.json,
// <id>.yaml or <id>.yml, HTTPSource issues GET <base>/<id> against a remote
// backend. Both accept the legacy flat file format, which has no metadata
// block and carries per-entity allocation and link capacity at the top level,
// and convert it on load.
//
// Catalog caches fetched networks until they are invalidated; WatchDir
// reports network files that change on disk so callers can invalidate and
// reload them.
package catalog
