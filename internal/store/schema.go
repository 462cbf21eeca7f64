package store

import "context"

// migrate creates every table the schema requires. Statements are plain ANSI
// SQL (VARCHAR/TEXT/TIMESTAMP) that all three supported dialects accept;
// dialect-specific DDL quirks (e.g. AUTOINCREMENT) are avoided by minting
// ids application-side via internal/idgen rather than relying on the
// database.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id VARCHAR(36) PRIMARY KEY,
		slug VARCHAR(255) NOT NULL UNIQUE,
		settings_json TEXT NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) PRIMARY KEY,
		tenant_id VARCHAR(36) NOT NULL,
		email VARCHAR(255) NOT NULL,
		role VARCHAR(32) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_tenant ON users(tenant_id)`,
	`CREATE TABLE IF NOT EXISTS tenant_configs (
		tenant_id VARCHAR(36) PRIMARY KEY,
		embedding_provider VARCHAR(64) NOT NULL,
		embedding_model VARCHAR(255) NOT NULL,
		embedding_dimensions INTEGER NOT NULL,
		embedding_base_url VARCHAR(512),
		chat_provider VARCHAR(64) NOT NULL,
		chat_model VARCHAR(255) NOT NULL,
		chat_base_url VARCHAR(512)
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id VARCHAR(36) PRIMARY KEY,
		tenant_id VARCHAR(36) NOT NULL,
		user_id VARCHAR(36) NOT NULL,
		filename VARCHAR(512) NOT NULL,
		file_path VARCHAR(1024) NOT NULL,
		file_size BIGINT NOT NULL,
		file_type VARCHAR(128) NOT NULL,
		status VARCHAR(32) NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id, status)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id VARCHAR(36) PRIMARY KEY,
		document_id VARCHAR(36) NOT NULL,
		tenant_id VARCHAR(36) NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		start_char INTEGER,
		end_char INTEGER,
		metadata_json TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, chunk_index)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_tenant ON chunks(tenant_id)`,
	`CREATE TABLE IF NOT EXISTS llm_operations (
		id VARCHAR(36) PRIMARY KEY,
		tenant_id VARCHAR(36) NOT NULL,
		user_id VARCHAR(36) NOT NULL,
		document_id VARCHAR(36),
		operation_type VARCHAR(32) NOT NULL,
		input_json TEXT NOT NULL,
		output_json TEXT,
		model_used VARCHAR(255),
		tokens_used INTEGER NOT NULL DEFAULT 0,
		cost_estimate REAL NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL,
		error_message TEXT,
		cancelled BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_tenant ON llm_operations(tenant_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_doc_type ON llm_operations(document_id, operation_type, status, created_at)`,
	`CREATE TABLE IF NOT EXISTS conversation_sessions (
		id VARCHAR(36) PRIMARY KEY,
		tenant_id VARCHAR(36) NOT NULL,
		user_id VARCHAR(36) NOT NULL,
		workflow_id VARCHAR(36),
		thread_id VARCHAR(36) NOT NULL UNIQUE,
		title VARCHAR(512),
		mode VARCHAR(32) NOT NULL DEFAULT 'auto',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON conversation_sessions(tenant_id, user_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(36) PRIMARY KEY,
		session_id VARCHAR(36) NOT NULL,
		role VARCHAR(16) NOT NULL,
		content TEXT NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS session_documents (
		session_id VARCHAR(36) NOT NULL,
		document_id VARCHAR(36) NOT NULL,
		added_at TIMESTAMP NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true,
		PRIMARY KEY (session_id, document_id)
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_definitions (
		id VARCHAR(36) PRIMARY KEY,
		tenant_id VARCHAR(36) NOT NULL,
		name VARCHAR(255) NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		description TEXT,
		nodes_json TEXT NOT NULL,
		edges_json TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflows_tenant ON workflow_definitions(tenant_id, is_active)`,
	`CREATE TABLE IF NOT EXISTS workflow_executions (
		id VARCHAR(36) PRIMARY KEY,
		tenant_id VARCHAR(36) NOT NULL,
		user_id VARCHAR(36) NOT NULL,
		workflow_id VARCHAR(36),
		session_id VARCHAR(36) NOT NULL,
		thread_id VARCHAR(36) NOT NULL,
		status VARCHAR(32) NOT NULL,
		input_json TEXT,
		output_json TEXT,
		error_message TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_thread ON workflow_executions(thread_id)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id VARCHAR(36) NOT NULL,
		step INTEGER NOT NULL,
		state_blob BLOB NOT NULL,
		parent_step INTEGER,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (thread_id, step)
	)`,
	`CREATE TABLE IF NOT EXISTS hitl_approvals (
		id VARCHAR(36) PRIMARY KEY,
		execution_id VARCHAR(36) NOT NULL,
		tenant_id VARCHAR(36) NOT NULL,
		user_id VARCHAR(36) NOT NULL,
		prompt TEXT NOT NULL,
		context_json TEXT NOT NULL DEFAULT '{}',
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		user_response TEXT,
		created_at TIMESTAMP NOT NULL,
		responded_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hitl_execution ON hitl_approvals(execution_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_hitl_tenant ON hitl_approvals(tenant_id, user_id, status)`,
	`CREATE TABLE IF NOT EXISTS vector_collections (
		tenant_id VARCHAR(36) PRIMARY KEY,
		dimensions INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS secrets (
		tenant_id VARCHAR(36) NOT NULL,
		path VARCHAR(255) NOT NULL,
		value_ciphertext BLOB NOT NULL,
		PRIMARY KEY (tenant_id, path)
	)`,
}

func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
