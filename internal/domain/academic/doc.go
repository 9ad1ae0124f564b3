// Package academic содержит типизированную модель академического состояния
// ученика и движок слияния частичных обновлений.
//
// Пакет определяет:
//
//   - Сущности: StudentProfile, AcademicState и его под-состояния
//   - Частичные обновления: Update (профиль) и StateDelta (под-состояния)
//   - Валидацию на границе: Validate, ValidateDelta
//   - Редьюсеры: UnionOrdered, AppendOnly, OverwriteKeys, DeepMerge
//   - Слияние: Merge, Combine, MergeState
//   - Интерфейсы хранилища: Repository, SnapshotCache
//
// # Правила слияния
//
// Каждое поле профиля имеет свой вид (FieldKind):
//
//	id                  неизменяем
//	name, level, major  последний писатель побеждает по sequence_number
//	courses, topics     объединение множеств с сохранением порядка
//	preferences         перезапись по ключам
//	history             только добавление
//
// Для каждого поля хранится номер последнего применённого обновления.
// Меньший номер даёт StaleUpdateError, равный - ConflictError. Обновление
// применяется целиком или не применяется вовсе.
//
// # Пример
//
//	profile, _ := academic.NewStudentProfile(academic.NewProfileParams{
//	    ID:      "s1",
//	    Name:    "Ana",
//	    Courses: []string{"CS101"},
//	})
//
//	u, err := academic.Validate(academic.NewUpdate("s1", 2).
//	    Set(academic.FieldCourses, []string{"MATH201"}))
//	if err != nil {
//	    return err
//	}
//
//	next, err := academic.Merge(profile, u)
//	// next.Courses == ["CS101", "MATH201"], profile не изменён
//
// Пакет не имеет внешних зависимостей.
package academic
