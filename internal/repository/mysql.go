package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/geostay/proximity-backend/internal/config"
	"github.com/geostay/proximity-backend/internal/metrics"
	"github.com/geostay/proximity-backend/internal/models"
)

const defaultQueryTimeout = 5 * time.Second

// propertyColumns список колонок для выборки объекта. Строковые поля
// приводятся через COALESCE: в исторических данных встречаются NULL.
const propertyColumns = `
		id,
		COALESCE(name, '') AS name,
		latitude,
		longitude,
		COALESCE(price, 0) AS price,
		date_added,
		COALESCE(neighbourhood, '') AS neighbourhood,
		COALESCE(city, '') AS city,
		COALESCE(room_type, '') AS room_type,
		COALESCE(property_type, '') AS property_type,
		COALESCE(cancellation_policy, '') AS cancellation_policy,
		COALESCE(host_identity_verified, '') AS host_identity_verified,
		COALESCE(purpose, '') AS purpose,
		is_premium,
		is_featured,
		is_verified`

const insertFieldCount = 16

// Колонки, по которым разрешена группировка в агрегации
var aggregateGroupColumns = map[string]string{
	"neighbourhood": "neighbourhood",
	"city":          "city",
}

// Колонки, по которым разрешены фильтры равенства в агрегации
var aggregateFilterColumns = map[string]string{
	"neighbourhood":        "neighbourhood",
	"city":                 "city",
	"roomType":             "room_type",
	"propertyType":         "property_type",
	"cancellationPolicy":   "cancellation_policy",
	"hostIdentityVerified": "host_identity_verified",
	"purpose":              "purpose",
}

// Колонки, для которых агрегация собирает множества уникальных значений
var aggregateSetColumns = map[string]string{
	"roomType":             "room_type",
	"propertyType":         "property_type",
	"cancellationPolicy":   "cancellation_policy",
	"hostIdentityVerified": "host_identity_verified",
}

// MySQLStore реализация DocStore поверх MySQL. Геозапросы используют
// ST_Distance_Sphere, поэтому требуется MySQL 5.7+.
type MySQLStore struct {
	db           *sql.DB
	logger       *logrus.Entry
	queryTimeout time.Duration
}

// NewMySQLStore создает новый MySQL репозиторий объектов недвижимости
func NewMySQLStore(cfg *config.MySQLConfig, logger *logrus.Entry) (*MySQLStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mysql config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql DSN is required")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	// Настройки connection pool
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}

	return &MySQLStore{
		db:           db,
		logger:       logger,
		queryTimeout: timeout,
	}, nil
}

// NewMySQLStoreWithDB оборачивает готовое соединение (для тестов)
func NewMySQLStoreWithDB(db *sql.DB, logger *logrus.Entry) *MySQLStore {
	return &MySQLStore{
		db:           db,
		logger:       logger,
		queryTimeout: defaultQueryTimeout,
	}
}

// Ping проверяет соединение с MySQL
func (s *MySQLStore) Ping(ctx context.Context) error {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(octx)
}

// Close закрывает соединение с MySQL
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// GeoNear возвращает страницу объектов в радиусе maxMeters от центра,
// отсортированных по дистанции. Дистанция считается на стороне MySQL
// через ST_Distance_Sphere (метры).
func (s *MySQLStore) GeoNear(ctx context.Context, center models.GeoPoint, maxMeters float64, skip, limit int64) ([]models.PropertyWithDistance, error) {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	defer s.observe("geo_near", time.Now())

	query := `
		SELECT ` + propertyColumns + `,
			ST_Distance_Sphere(POINT(longitude, latitude), POINT(?, ?)) AS distance_m
		FROM properties
		WHERE ST_Distance_Sphere(POINT(longitude, latitude), POINT(?, ?)) <= ?
		ORDER BY distance_m ASC, id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(octx, query,
		center.Longitude, center.Latitude,
		center.Longitude, center.Latitude, maxMeters,
		limit, skip)
	if err != nil {
		return nil, s.docError("geo_near", err)
	}
	defer rows.Close()

	var results []models.PropertyWithDistance
	for rows.Next() {
		var (
			p        models.Property
			distance float64
		)
		if err := scanPropertyInto(rows, &p, &distance); err != nil {
			s.logger.WithField("error", err).Warn("Failed to scan geo-near row")
			continue
		}
		results = append(results, models.PropertyWithDistance{
			Property:       p,
			DistanceMeters: distance,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, s.docError("geo_near", err)
	}

	return results, nil
}

// CountNear возвращает число объектов в радиусе maxMeters от центра
func (s *MySQLStore) CountNear(ctx context.Context, center models.GeoPoint, maxMeters float64) (int64, error) {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	defer s.observe("count_near", time.Now())

	query := `
		SELECT COUNT(*)
		FROM properties
		WHERE ST_Distance_Sphere(POINT(longitude, latitude), POINT(?, ?)) <= ?
	`

	var count int64
	err := s.db.QueryRowContext(octx, query, center.Longitude, center.Latitude, maxMeters).Scan(&count)
	if err != nil {
		return 0, s.docError("count_near", err)
	}
	return count, nil
}

// FindByID возвращает объект по идентификатору или models.ErrNotFound
func (s *MySQLStore) FindByID(ctx context.Context, id string) (*models.Property, error) {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	defer s.observe("find_by_id", time.Now())

	query := `SELECT ` + propertyColumns + ` FROM properties WHERE id = ?`

	var p models.Property
	err := scanPropertyInto(s.db.QueryRowContext(octx, query, id), &p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
		}
		return nil, s.docError("find_by_id", err)
	}
	return &p, nil
}

// Insert сохраняет новый объект. Пустой ID заменяется на UUID, нулевая
// дата добавления на текущее время. Возвращает объект с проставленными
// полями.
func (s *MySQLStore) Insert(ctx context.Context, property *models.Property) (*models.Property, error) {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	defer s.observe("insert", time.Now())

	if property.ID == "" {
		property.ID = uuid.NewString()
	}
	if property.DateAdded.IsZero() {
		property.DateAdded = time.Now().UTC()
	}

	query := `
		INSERT INTO properties (
			id, name, latitude, longitude, price, date_added,
			neighbourhood, city, room_type, property_type,
			cancellation_policy, host_identity_verified, purpose,
			is_premium, is_featured, is_verified
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if _, err := s.db.ExecContext(octx, query, insertArgs(property)...); err != nil {
		return nil, s.docError("insert", err)
	}

	s.logger.WithFields(logrus.Fields{
		"property_id": property.ID,
		"lat":         property.Latitude,
		"lng":         property.Longitude,
	}).Debug("Inserted property")

	return property, nil
}

// InsertBatch сохраняет батч объектов одним запросом с upsert-семантикой.
// Невалидные записи пропускаются с предупреждением. Возвращает число
// записей, попавших в запрос.
func (s *MySQLStore) InsertBatch(ctx context.Context, properties []*models.Property) (int, error) {
	if len(properties) == 0 {
		return 0, nil
	}

	octx, cancel := s.opCtx(ctx)
	defer cancel()
	defer s.observe("insert_batch", time.Now())

	now := time.Now().UTC()
	args := make([]interface{}, 0, len(properties)*insertFieldCount)
	valid := 0

	for _, p := range properties {
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"property_id": p.ID,
				"error":       err,
			}).Warn("Invalid property in batch, skipping")
			continue
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.DateAdded.IsZero() {
			p.DateAdded = now
		}
		args = append(args, insertArgs(p)...)
		valid++
	}

	if valid == 0 {
		s.logger.Warn("No valid properties to save in batch")
		return 0, nil
	}

	query := `
		INSERT INTO properties (
			id, name, latitude, longitude, price, date_added,
			neighbourhood, city, room_type, property_type,
			cancellation_policy, host_identity_verified, purpose,
			is_premium, is_featured, is_verified
		) VALUES ` + s.generatePlaceholders(valid, insertFieldCount) + `
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			latitude = VALUES(latitude),
			longitude = VALUES(longitude),
			price = VALUES(price),
			neighbourhood = VALUES(neighbourhood),
			city = VALUES(city),
			room_type = VALUES(room_type),
			property_type = VALUES(property_type),
			cancellation_policy = VALUES(cancellation_policy),
			host_identity_verified = VALUES(host_identity_verified),
			purpose = VALUES(purpose),
			is_premium = VALUES(is_premium),
			is_featured = VALUES(is_featured),
			is_verified = VALUES(is_verified)`

	if _, err := s.db.ExecContext(octx, query, args...); err != nil {
		return 0, s.docError("insert_batch", err)
	}

	s.logger.WithFields(logrus.Fields{
		"count":   valid,
		"skipped": len(properties) - valid,
	}).Debug("Saved properties batch to MySQL")

	return valid, nil
}

// FindPage возвращает страницу объектов, новые первыми
func (s *MySQLStore) FindPage(ctx context.Context, skip, limit int64) ([]models.Property, error) {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	defer s.observe("find_page", time.Now())

	query := `
		SELECT ` + propertyColumns + `
		FROM properties
		ORDER BY date_added DESC, id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(octx, query, limit, skip)
	if err != nil {
		return nil, s.docError("find_page", err)
	}
	defer rows.Close()

	return s.collectProperties(rows, "find_page")
}

// CountAll возвращает общее число объектов
func (s *MySQLStore) CountAll(ctx context.Context) (int64, error) {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	defer s.observe("count_all", time.Now())

	var count int64
	if err := s.db.QueryRowContext(octx, `SELECT COUNT(*) FROM properties`).Scan(&count); err != nil {
		return 0, s.docError("count_all", err)
	}
	return count, nil
}

// FindInRange возвращает страницу объектов внутри прямоугольника координат
// (legacy путь без геохеша и кеша)
func (s *MySQLStore) FindInRange(ctx context.Context, box models.Bounds, skip, limit int64) ([]models.Property, error) {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	defer s.observe("find_in_range", time.Now())

	query := `
		SELECT ` + propertyColumns + `
		FROM properties
		WHERE latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(octx, query,
		box.Southwest.Latitude, box.Northeast.Latitude,
		box.Southwest.Longitude, box.Northeast.Longitude,
		limit, skip)
	if err != nil {
		return nil, s.docError("find_in_range", err)
	}
	defer rows.Close()

	return s.collectProperties(rows, "find_in_range")
}

// CountInRange возвращает число объектов внутри прямоугольника координат
func (s *MySQLStore) CountInRange(ctx context.Context, box models.Bounds) (int64, error) {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	defer s.observe("count_in_range", time.Now())

	query := `
		SELECT COUNT(*)
		FROM properties
		WHERE latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?
	`

	var count int64
	err := s.db.QueryRowContext(octx, query,
		box.Southwest.Latitude, box.Northeast.Latitude,
		box.Southwest.Longitude, box.Northeast.Longitude).Scan(&count)
	if err != nil {
		return 0, s.docError("count_in_range", err)
	}
	return count, nil
}

// AggregateByField группирует объекты по локации: общее количество,
// количество по назначению (for-sale / for-rent) и множества уникальных
// значений запрошенных категориальных полей. Поля группировки, фильтров
// и множеств ограничены белыми списками, значения фильтров уходят
// плейсхолдерами.
func (s *MySQLStore) AggregateByField(ctx context.Context, groupField string, filters map[string]string, addToSetFields []string) ([]models.AggregateGroup, error) {
	groupCol, ok := aggregateGroupColumns[groupField]
	if !ok {
		return nil, fmt.Errorf("unsupported group field: %q", groupField)
	}

	setFields := make([]string, 0, len(addToSetFields))
	selects := []string{
		"COALESCE(" + groupCol + ", '') AS locality",
		"COUNT(*) AS total",
		"SUM(CASE WHEN purpose = '" + models.PurposeForSale + "' THEN 1 ELSE 0 END) AS for_sale",
		"SUM(CASE WHEN purpose = '" + models.PurposeForRent + "' THEN 1 ELSE 0 END) AS for_rent",
	}
	for _, field := range addToSetFields {
		col, ok := aggregateSetColumns[field]
		if !ok {
			return nil, fmt.Errorf("unsupported set field: %q", field)
		}
		selects = append(selects, fmt.Sprintf("GROUP_CONCAT(DISTINCT NULLIF(%s, '') ORDER BY %s SEPARATOR ',') AS %s_set", col, col, col))
		setFields = append(setFields, field)
	}

	where := make([]string, 0, len(filters))
	args := make([]interface{}, 0, len(filters))
	for field, value := range filters {
		col, ok := aggregateFilterColumns[field]
		if !ok {
			return nil, fmt.Errorf("unsupported filter field: %q", field)
		}
		where = append(where, col+" = ?")
		args = append(args, value)
	}

	query := "SELECT " + strings.Join(selects, ", ") + " FROM properties"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY " + groupCol + " ORDER BY total DESC, locality ASC"

	octx, cancel := s.opCtx(ctx)
	defer cancel()
	defer s.observe("aggregate", time.Now())

	rows, err := s.db.QueryContext(octx, query, args...)
	if err != nil {
		return nil, s.docError("aggregate", err)
	}
	defer rows.Close()

	var groups []models.AggregateGroup
	for rows.Next() {
		group := models.AggregateGroup{}
		sets := make([]sql.NullString, len(setFields))

		dest := []interface{}{&group.Locality, &group.TotalCount, &group.ForSale, &group.ForRent}
		for i := range sets {
			dest = append(dest, &sets[i])
		}

		if err := rows.Scan(dest...); err != nil {
			s.logger.WithField("error", err).Warn("Failed to scan aggregate row")
			continue
		}

		for i, field := range setFields {
			values := splitConcat(sets[i])
			switch field {
			case "roomType":
				group.RoomTypes = values
			case "propertyType":
				group.PropertyTypes = values
			case "cancellationPolicy":
				group.CancellationPolicies = values
			case "hostIdentityVerified":
				group.HostVerification = values
			}
		}

		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, s.docError("aggregate", err)
	}

	return groups, nil
}

// Stats возвращает статистику соединений с MySQL
func (s *MySQLStore) Stats() sql.DBStats {
	return s.db.Stats()
}

func (s *MySQLStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *MySQLStore) observe(op string, start time.Time) {
	metrics.DocOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *MySQLStore) docError(op string, err error) error {
	metrics.DocOperationErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: %s: %w", models.ErrUpstreamDoc, op, err)
}

// collectProperties вычитывает объекты из rows, пропуская битые строки
func (s *MySQLStore) collectProperties(rows *sql.Rows, op string) ([]models.Property, error) {
	var properties []models.Property
	for rows.Next() {
		var p models.Property
		if err := scanPropertyInto(rows, &p); err != nil {
			s.logger.WithField("error", err).Warn("Failed to scan property row")
			continue
		}
		properties = append(properties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.docError(op, err)
	}
	return properties, nil
}

// generatePlaceholders генерирует плейсхолдеры для batch INSERT
func (s *MySQLStore) generatePlaceholders(count, fieldsPerRecord int) string {
	if count == 0 {
		return ""
	}

	singleRecord := "(" + strings.Repeat("?,", fieldsPerRecord-1) + "?)"

	placeholders := make([]string, count)
	for i := 0; i < count; i++ {
		placeholders[i] = singleRecord
	}

	return strings.Join(placeholders, ",")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPropertyInto сканирует строку propertyColumns в структуру.
// Дополнительные указатели (extra) идут после колонок объекта.
func scanPropertyInto(row rowScanner, p *models.Property, extra ...interface{}) error {
	dest := []interface{}{
		&p.ID, &p.Name, &p.Latitude, &p.Longitude, &p.Price, &p.DateAdded,
		&p.Neighbourhood, &p.City, &p.RoomType, &p.PropertyType,
		&p.CancellationPolicy, &p.HostIdentityVerified, &p.Purpose,
		&p.IsPremium, &p.IsFeatured, &p.IsVerified,
	}
	dest = append(dest, extra...)
	return row.Scan(dest...)
}

func insertArgs(p *models.Property) []interface{} {
	return []interface{}{
		p.ID, p.Name, p.Latitude, p.Longitude, p.Price, p.DateAdded,
		p.Neighbourhood, p.City, p.RoomType, p.PropertyType,
		p.CancellationPolicy, p.HostIdentityVerified, p.Purpose,
		p.IsPremium, p.IsFeatured, p.IsVerified,
	}
}

// splitConcat разбирает результат GROUP_CONCAT в срез значений
func splitConcat(value sql.NullString) []string {
	if !value.Valid || value.String == "" {
		return nil
	}
	parts := strings.Split(value.String, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
