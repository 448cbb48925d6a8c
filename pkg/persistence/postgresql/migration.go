package postgresql

// migrations returns the versioned schema for the saga store.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS manifest_states (
				correlation_id UUID PRIMARY KEY,
				current_state TEXT NOT NULL,
				reference_number TEXT NOT NULL,
				rejection_reason TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				version BIGINT NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_manifest_states_current_state
				ON manifest_states (current_state);
		`,
	}
}
