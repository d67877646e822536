package db

import (
	"fmt"
	"log"

	"research-notes/internal/config"
	"research-notes/internal/models"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// realtimeTables are the tables whose row changes are published on the
// realtime channel.
var realtimeTables = []string{"pages", "chats", "chat_messages", "comments"}

// NewGorm initializes a new GORM database connection, migrates the schema and
// installs the row-change triggers feeding the realtime listener.
func NewGorm(cfg *config.Config) (*GormDB, error) {
	dsn := cfg.DatabaseURL()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Page{},
		&models.Chat{},
		&models.ChatMessage{},
		&models.Comment{},
		&models.Embedding{},
	); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// GORM has no vector index support
	err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_embeddings_vector
		ON embeddings USING ivfflat (embedding vector_cosine_ops)
	`).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	if err := installRealtimeTriggers(db, cfg.RealtimeChannel); err != nil {
		return nil, err
	}

	log.Println("✓ Database connected and migrated successfully")

	return &GormDB{db}, nil
}

// notifyFunctionSQL publishes a compact JSON description of each row change.
// The payload never carries the content column: NOTIFY payloads are capped at
// 8000 bytes, so listeners re-read the post-image when they need it.
const notifyFunctionSQL = `
CREATE OR REPLACE FUNCTION notify_row_change() RETURNS trigger AS $$
DECLARE
	rec JSONB;
	old_rec JSONB;
BEGIN
	IF TG_OP = 'DELETE' THEN
		rec := to_jsonb(OLD);
	ELSE
		rec := to_jsonb(NEW);
	END IF;
	IF TG_OP <> 'INSERT' THEN
		old_rec := to_jsonb(OLD);
	END IF;
	PERFORM pg_notify(TG_ARGV[0], json_build_object(
		'type', TG_OP,
		'table', TG_TABLE_NAME,
		'id', rec->>'id',
		'user_id', rec->>'user_id',
		'old', CASE WHEN old_rec IS NULL THEN NULL ELSE jsonb_build_object(
			'id', old_rec->'id',
			'is_public', old_rec->'is_public',
			'parent_id', old_rec->'parent_id'
		) END
	)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`

func installRealtimeTriggers(db *gorm.DB, channel string) error {
	if err := db.Exec(notifyFunctionSQL).Error; err != nil {
		return fmt.Errorf("failed to create notify function: %w", err)
	}

	for _, table := range realtimeTables {
		trigger := pq.QuoteIdentifier(table + "_row_change")
		stmts := []string{
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, pq.QuoteIdentifier(table)),
			fmt.Sprintf(
				"CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION notify_row_change(%s)",
				trigger, pq.QuoteIdentifier(table), pq.QuoteLiteral(channel),
			),
		}
		for _, stmt := range stmts {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to install realtime trigger on %s: %w", table, err)
			}
		}
	}

	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
