package models

import "errors"

// Ошибки доменного уровня. Обработчики HTTP отображают их в коды ответов,
// сервисы различают через errors.Is.
var (
	// ErrInvalidCoordinate широта вне [-90, 90] или долгота вне [-180, 180]
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrInvalidRadius отрицательный или непарсимый радиус запроса
	ErrInvalidRadius = errors.New("invalid radius")

	// ErrInvalidPagination page < 1 или limit вне [1, 1000]
	ErrInvalidPagination = errors.New("invalid pagination")

	// ErrInvalidProperty объект не проходит валидацию перед записью
	ErrInvalidProperty = errors.New("invalid property")

	// ErrNotFound запрошенный объект отсутствует в хранилище
	ErrNotFound = errors.New("property not found")

	// ErrUpstreamKV сбой KV-хранилища (не фатальный для чтения, см. координатор)
	ErrUpstreamKV = errors.New("kv store failure")

	// ErrUpstreamDoc сбой документного хранилища
	ErrUpstreamDoc = errors.New("doc store failure")
)
