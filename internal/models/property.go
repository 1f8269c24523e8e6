package models

import (
	"fmt"
	"strings"
	"time"
)

// Значения поля Purpose
const (
	PurposeForSale = "for-sale"
	PurposeForRent = "for-rent"
)

// Property представляет объект недвижимости из документного хранилища.
// Для кеша объект непрозрачен: слой кеширования работает только с
// координатами, датой добавления и бейджами.
type Property struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Latitude             float64   `json:"latitude"`             // широта
	Longitude            float64   `json:"longitude"`            // долгота
	Price                float64   `json:"price"`                // цена за ночь/месяц
	DateAdded            time.Time `json:"dateAdded"`            // дата добавления записи
	Neighbourhood        string    `json:"neighbourhood"`        // район
	City                 string    `json:"city"`                 // город
	RoomType             string    `json:"roomType"`             // тип размещения
	PropertyType         string    `json:"propertyType"`         // тип объекта
	CancellationPolicy   string    `json:"cancellationPolicy"`   // политика отмены
	HostIdentityVerified string    `json:"hostIdentityVerified"` // verified / unconfirmed
	Purpose              string    `json:"purpose"`              // for-sale / for-rent
	IsPremium            bool      `json:"isPremium"`
	IsFeatured           bool      `json:"isFeatured"`
	IsVerified           bool      `json:"isVerified"`
}

// Location возвращает координаты объекта
func (p *Property) Location() GeoPoint {
	return GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude}
}

// Badges возвращает атрибуты, участвующие в темпоральном скоринге
func (p *Property) Badges() ScoreAttributes {
	return ScoreAttributes{
		IsPremium:  p.IsPremium,
		IsFeatured: p.IsFeatured,
		IsVerified: p.IsVerified,
	}
}

// Validate проверяет обязательные поля перед записью в хранилище
func (p *Property) Validate() error {
	if err := p.Location().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProperty)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: price must be non-negative, got %f", ErrInvalidProperty, p.Price)
	}
	if p.Purpose != "" && p.Purpose != PurposeForSale && p.Purpose != PurposeForRent {
		return fmt.Errorf("%w: unknown purpose %q", ErrInvalidProperty, p.Purpose)
	}
	return nil
}

// ScoreAttributes бейджи объекта, влияющие на темпоральный скоринг
type ScoreAttributes struct {
	IsPremium  bool `json:"isPremium"`
	IsFeatured bool `json:"isFeatured"`
	IsVerified bool `json:"isVerified"`
}

// PropertyWithDistance результат geo-near запроса: объект плюс дистанция от центра поиска
type PropertyWithDistance struct {
	Property       Property
	DistanceMeters float64
}

// ScoredProperty объект с вычисленной дистанцией и релевантностью для выдачи
type ScoredProperty struct {
	Property
	DistanceKm float64 `json:"distanceKm"`
	Relevance  float64 `json:"relevance"`
}

// Операции фида обновлений
const (
	OperationAdd    = "add"
	OperationUpdate = "update"
)

// PropertyUpdate сообщение фида обновлений (MQTT)
type PropertyUpdate struct {
	Operation string   `json:"operation"` // add / update
	Property  Property `json:"property"`
}
