package db

// SchemaSQL defines the staging and job tables. The two UNIQUE indexes are
// what makes re-running an analyze or import converge instead of duplicate.
const SchemaSQL = `
    -- ==========================================================================
    -- STAGED ROWS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS staging_row SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON staging_row TYPE string;
    DEFINE FIELD IF NOT EXISTS dataset ON staging_row TYPE string;
    DEFINE FIELD IF NOT EXISTS row_index ON staging_row TYPE int;
    DEFINE FIELD IF NOT EXISTS row_data ON staging_row TYPE option<object> FLEXIBLE;
    -- Size-dominant text fields split out of row_data
    DEFINE FIELD IF NOT EXISTS text_columns ON staging_row TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS processed ON staging_row TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS error ON staging_row TYPE option<string>;

    DEFINE INDEX IF NOT EXISTS staging_row_key ON staging_row FIELDS job_id, dataset, row_index UNIQUE;
    DEFINE INDEX IF NOT EXISTS staging_row_error ON staging_row FIELDS job_id, error;

    -- ==========================================================================
    -- ENTITY MAPPINGS (source id -> destination id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS entity_mapping SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON entity_mapping TYPE string;
    DEFINE FIELD IF NOT EXISTS entity_type ON entity_mapping TYPE string;
    DEFINE FIELD IF NOT EXISTS source_id ON entity_mapping TYPE int;
    DEFINE FIELD IF NOT EXISTS target_id ON entity_mapping TYPE int;
    DEFINE FIELD IF NOT EXISTS target_type ON entity_mapping TYPE string;
    DEFINE FIELD IF NOT EXISTS metadata ON entity_mapping TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS updated ON entity_mapping TYPE datetime VALUE time::now();

    DEFINE INDEX IF NOT EXISTS entity_mapping_key ON entity_mapping FIELDS job_id, entity_type, source_id UNIQUE;

    -- ==========================================================================
    -- DATASET SUMMARIES
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS import_dataset SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS import_dataset_job ON import_dataset FIELDS job_id;

    -- ==========================================================================
    -- JOB RECORDS
    -- ==========================================================================
    -- Stored as documents; record id is the job id.
    DEFINE TABLE IF NOT EXISTS import_job SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS import_job_created ON import_job FIELDS created_at;

    -- Cancellation requests live apart from the job document so that a
    -- worker persisting progress can never overwrite them.
    DEFINE TABLE IF NOT EXISTS job_cancel SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON job_cancel TYPE string;
    DEFINE FIELD IF NOT EXISTS requested_at ON job_cancel TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- REINDEX OUTBOX
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS reindex_request SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS scope ON reindex_request TYPE string;
    DEFINE FIELD IF NOT EXISTS job_id ON reindex_request TYPE string;
    DEFINE FIELD IF NOT EXISTS requested_at ON reindex_request TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS handled_at ON reindex_request TYPE option<datetime>;
`
