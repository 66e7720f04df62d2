package snapshotdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	for _, table := range []string{"snapshots", "states"} {
		if _, err := tx.ExecContext(ctx, strings.ReplaceAll(`
			CREATE TABLE `+table+` (
				character    TEXT    NOT NULL,
				id           INTEGER NOT NULL,
				payload_comp TEXT    NOT NULL DEFAULT '',
				payload      BLOB    NOT NULL,
				PRIMARY KEY (character, id)
			) STRICT;
		`, `
			`, "\n")); err != nil {
			return fmt.Errorf("create %s table: %w", table, err)
		}
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	for _, table := range []string{"states", "snapshots"} {
		if _, err := tx.ExecContext(ctx, `DROP TABLE `+table); err != nil {
			return fmt.Errorf("drop %s table: %w", table, err)
		}
	}
	return nil
}
