package academic

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт хранилища состояния. Реализации находятся в
// infrastructure/persistence (postgres, memory, redis).
// ══════════════════════════════════════════════════════════════════════════════

// ChangeKind различает источник изменения в журнале.
type ChangeKind string

const (
	ChangeOnboard ChangeKind = "onboard"
	ChangeUpdate  ChangeKind = "update"
	ChangeDelta   ChangeKind = "delta"
)

// ChangeRecord - запись журнала принятых изменений (аудит).
type ChangeRecord struct {
	ID        string
	LearnerID string
	Version   uint64
	Sequence  uint64
	Kind      ChangeKind
	Source    string
	Fields    []string // затронутые поля профиля или секции состояния
	Checksum  string
	AppliedAt time.Time
}

// Repository хранит последнее состояние каждого ученика.
type Repository interface {
	// Create сохраняет состояние нового ученика (версия 1).
	// Возвращает ErrProfileExists, если ученик уже существует.
	Create(ctx context.Context, state AcademicState, rec ChangeRecord) error

	// Load возвращает последнее сохранённое состояние вместе с часами полей.
	// Возвращает ErrProfileNotFound, если ученик не найден.
	Load(ctx context.Context, learnerID string) (AcademicState, error)

	// Save заменяет состояние, если сохранённая версия равна expectedVersion.
	// Возвращает ErrVersionMismatch при гонке писателей.
	Save(ctx context.Context, next AcademicState, expectedVersion uint64, rec ChangeRecord) error

	// History возвращает журнал изменений ученика, начиная с самых новых.
	History(ctx context.Context, learnerID string, limit int) ([]ChangeRecord, error)

	// List возвращает ID всех учеников.
	List(ctx context.Context) ([]string, error)
}

// SnapshotCache - кэш последних состояний для чтения из других процессов.
// Промах кэша не является ошибкой хранилища.
type SnapshotCache interface {
	// Get возвращает кэшированное состояние. ok=false при промахе.
	Get(ctx context.Context, learnerID string) (state AcademicState, ok bool, err error)

	// Set кэширует состояние.
	Set(ctx context.Context, state AcademicState) error

	// Invalidate удаляет состояние из кэша.
	Invalidate(ctx context.Context, learnerID string) error
}
