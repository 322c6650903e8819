package postgres

const (
	querySchemaTableExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = $1
		)
	`

	queryNextSurrogateKey = `SELECT nextval('dim_customer_sk_seq')`

	// queryCurrentVersion reads every open version of a key. More than one row
	// means the single-current invariant is broken.
	queryCurrentVersion = `
		SELECT surrogate_key, natural_key, attributes, valid_from, valid_to, is_current
		FROM dim_customer
		WHERE natural_key = $1 AND is_current
		ORDER BY valid_from ASC
	`

	// queryCurrentVersionForUpdate locks the open version(s) for the close+insert transaction.
	queryCurrentVersionForUpdate = `
		SELECT surrogate_key, natural_key, attributes, valid_from, valid_to, is_current
		FROM dim_customer
		WHERE natural_key = $1 AND is_current
		ORDER BY valid_from ASC
		FOR UPDATE
	`

	queryVersionAsOf = `
		SELECT surrogate_key, natural_key, attributes, valid_from, valid_to, is_current
		FROM dim_customer
		WHERE natural_key = $1 AND valid_from <= $2 AND valid_to >= $2
		ORDER BY valid_from ASC
	`

	queryVersionHistory = `
		SELECT surrogate_key, natural_key, attributes, valid_from, valid_to, is_current
		FROM dim_customer
		WHERE natural_key = $1
		ORDER BY valid_from ASC, surrogate_key ASC
	`

	queryCloseVersion = `
		UPDATE dim_customer
		SET valid_to = $1, is_current = FALSE
		WHERE surrogate_key = $2 AND is_current
	`

	queryInsertVersion = `
		INSERT INTO dim_customer (
			surrogate_key, natural_key, attributes, valid_from, valid_to, is_current
		) VALUES ($1, $2, $3, $4, $5, TRUE)
	`

	// queryLockFactPartition serializes replaces of one business date until commit.
	queryLockFactPartition = `SELECT pg_advisory_xact_lock(hashtext($1))`

	queryDeleteFactPartition = `DELETE FROM fact_booking_daily WHERE business_date = $1`

	queryInsertFactRow = `
		INSERT INTO fact_booking_daily (
			business_date, category, natural_key, surrogate_key,
			net_amount, quantity, transaction_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	queryListFactPartition = `
		SELECT business_date, category, natural_key, surrogate_key,
			net_amount, quantity, transaction_count
		FROM fact_booking_daily
		WHERE business_date = $1
		ORDER BY category ASC, natural_key ASC
	`

	queryInsertRun = `
		INSERT INTO pipeline_runs (
			run_id, kind, business_date, status, started_at, finished_at,
			rows_read, versions_created, versions_closed, unchanged,
			fact_rows_written, orphan_count, errors
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	queryListRuns = `
		SELECT run_id, kind, business_date, status, started_at, finished_at,
			rows_read, versions_created, versions_closed, unchanged,
			fact_rows_written, orphan_count, errors
		FROM pipeline_runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT $1
	`
)
