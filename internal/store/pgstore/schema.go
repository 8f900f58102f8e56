package pgstore

// schema stores each aggregate as a JSONB document next to the columns that
// are filtered on or constrained. The document uses the same camelCase field
// names as the other backends.
const schema = `
CREATE TABLE IF NOT EXISTS contracts (
  id          TEXT PRIMARY KEY,
  client_id   TEXT NOT NULL,
  freelancer_id TEXT NOT NULL,
  status      TEXT NOT NULL,
  version     BIGINT NOT NULL,
  doc         JSONB NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS contract_milestones (
  milestone_id TEXT PRIMARY KEY,
  contract_id  TEXT NOT NULL REFERENCES contracts(id)
);

CREATE TABLE IF NOT EXISTS payments (
  id                      TEXT PRIMARY KEY,
  contract_id             TEXT NOT NULL,
  milestone_id            TEXT NOT NULL,
  status                  TEXT NOT NULL,
  provider_transaction_id TEXT,
  version                 BIGINT NOT NULL,
  doc                     JSONB NOT NULL,
  created_at              TIMESTAMPTZ NOT NULL
);

-- At most one payment per milestone may hold funding.
CREATE UNIQUE INDEX IF NOT EXISTS uq_payments_active_funding
  ON payments(milestone_id) WHERE status IN ('pending', 'escrowed');
CREATE UNIQUE INDEX IF NOT EXISTS uq_payments_provider_tx
  ON payments(provider_transaction_id) WHERE provider_transaction_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_payments_status_created ON payments(status, created_at);

CREATE TABLE IF NOT EXISTS contract_events (
  id          TEXT PRIMARY KEY,
  contract_id TEXT NOT NULL,
  doc         JSONB NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contract_events_contract ON contract_events(contract_id, created_at);

CREATE TABLE IF NOT EXISTS notifications (
  id         TEXT PRIMARY KEY,
  user_id    TEXT NOT NULL,
  is_read    BOOLEAN NOT NULL DEFAULT FALSE,
  doc        JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read, created_at DESC);

CREATE TABLE IF NOT EXISTS reconciliation_anomalies (
  id         TEXT PRIMARY KEY,
  payment_id TEXT NOT NULL,
  doc        JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anomalies_created ON reconciliation_anomalies(created_at DESC);

CREATE TABLE IF NOT EXISTS outbox_events (
  id             TEXT PRIMARY KEY,
  aggregate_type TEXT NOT NULL,
  aggregate_id   TEXT NOT NULL,
  routing_key    TEXT NOT NULL,
  payload        JSONB NOT NULL,
  status         TEXT NOT NULL DEFAULT 'pending',
  retry_count    INT NOT NULL DEFAULT 0,
  next_retry_at  TIMESTAMPTZ,
  created_at     TIMESTAMPTZ NOT NULL,
  updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_events(status, next_retry_at, created_at);
`
