// Package infra contains technical adapters such as scenario stores,
// metrics exporters and the audit log. These packages should depend only on
// the interfaces defined in the core packages.
package infra
