package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Конфигурация тестового фида
type TestConfig struct {
	BrokerURL   string
	Topic       string
	PublishRate time.Duration
	MaxMessages int
	ClientID    string
	RandomSeed  int64
	CenterLat   float64
	CenterLng   float64
	SpreadKm    float64 // разброс объектов вокруг центра
	UpdateShare float64 // доля update-операций после разогрева
}

// TestPublisher публикует тестовые обновления объектов недвижимости
type TestPublisher struct {
	client    mqtt.Client
	config    *TestConfig
	rand      *rand.Rand
	published []feedProperty // уже отправленные объекты для update-операций
}

// feedProperty сгенерированный объект фида
type feedProperty struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Latitude             float64   `json:"latitude"`
	Longitude            float64   `json:"longitude"`
	Price                float64   `json:"price"`
	DateAdded            time.Time `json:"dateAdded"`
	Neighbourhood        string    `json:"neighbourhood"`
	City                 string    `json:"city"`
	RoomType             string    `json:"roomType"`
	PropertyType         string    `json:"propertyType"`
	CancellationPolicy   string    `json:"cancellationPolicy"`
	HostIdentityVerified string    `json:"hostIdentityVerified"`
	Purpose              string    `json:"purpose"`
	IsPremium            bool      `json:"isPremium"`
	IsFeatured           bool      `json:"isFeatured"`
	IsVerified           bool      `json:"isVerified"`
}

// feedUpdate сообщение фида в формате подписчика
type feedUpdate struct {
	Operation string       `json:"operation"`
	Property  feedProperty `json:"property"`
}

var (
	neighbourhoods = []string{"Tribeca", "SoHo", "Chelsea", "Harlem", "Williamsburg", "Astoria"}
	roomTypes      = []string{"Entire home/apt", "Private room", "Shared room"}
	propertyTypes  = []string{"Apartment", "House", "Loft", "Condominium"}
	policies       = []string{"flexible", "moderate", "strict"}
	purposes       = []string{"for-rent", "for-sale"}
)

func main() {
	// Параметры командной строки
	var (
		brokerURL   = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
		topic       = flag.String("topic", "properties/updates", "Feed topic")
		rate        = flag.Duration("rate", 2*time.Second, "Publish rate")
		maxMessages = flag.Int("max", 0, "Max messages (0 = unlimited)")
		clientID    = flag.String("client", "proximity-test-publisher", "MQTT client ID")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
		lat         = flag.Float64("lat", 40.7128, "Center latitude")
		lng         = flag.Float64("lng", -74.0060, "Center longitude")
		spread      = flag.Float64("spread", 10.0, "Spread around center, km")
		updateShare = flag.Float64("updates", 0.3, "Share of update operations")
	)
	flag.Parse()

	config := &TestConfig{
		BrokerURL:   *brokerURL,
		Topic:       *topic,
		PublishRate: *rate,
		MaxMessages: *maxMessages,
		ClientID:    *clientID,
		RandomSeed:  *seed,
		CenterLat:   *lat,
		CenterLng:   *lng,
		SpreadKm:    *spread,
		UpdateShare: *updateShare,
	}

	// Создание и запуск тестового издателя
	publisher, err := NewTestPublisher(config)
	if err != nil {
		log.Fatalf("Ошибка создания издателя: %v", err)
	}

	fmt.Printf("🚀 Начинаем публикацию тестовых обновлений недвижимости\n")
	fmt.Printf("📡 Брокер: %s\n", config.BrokerURL)
	fmt.Printf("📨 Топик: %s\n", config.Topic)
	fmt.Printf("⏱️  Частота: %v\n", config.PublishRate)
	fmt.Printf("🌍 Центр: %.4f, %.4f (разброс %.1f км)\n", config.CenterLat, config.CenterLng, config.SpreadKm)
	if config.MaxMessages > 0 {
		fmt.Printf("🔢 Максимум сообщений: %d\n", config.MaxMessages)
	}
	fmt.Println()

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Запуск издателя
	done := make(chan bool)
	go func() {
		publisher.Start()
		done <- true
	}()

	select {
	case <-sigChan:
		fmt.Println("\n⏹️  Получен сигнал завершения...")
		publisher.Stop()
	case <-done:
		fmt.Println("\n✅ Публикация завершена")
	}

	fmt.Println("👋 До свидания!")
}

// NewTestPublisher создает новый тестовый издатель
func NewTestPublisher(config *TestConfig) (*TestPublisher, error) {
	// Создание MQTT клиента
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.BrokerURL)
	opts.SetClientID(config.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)

	// Подключение к брокеру
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("ошибка подключения к MQTT брокеру: %w", token.Error())
	}

	fmt.Println("✅ Подключен к MQTT брокеру")

	return &TestPublisher{
		client: client,
		config: config,
		rand:   rand.New(rand.NewSource(config.RandomSeed)),
	}, nil
}

// Start запускает публикацию сообщений
func (p *TestPublisher) Start() {
	messageCount := 0
	ticker := time.NewTicker(p.config.PublishRate)
	defer ticker.Stop()

	for range ticker.C {
		update := p.nextUpdate()

		if err := p.publishUpdate(update); err != nil {
			log.Printf("❌ Ошибка публикации: %v", err)
		} else {
			messageCount++
			if messageCount%10 == 0 {
				fmt.Printf("📤 Опубликовано сообщений: %d\n", messageCount)
			}
		}

		// Проверяем лимит сообщений
		if p.config.MaxMessages > 0 && messageCount >= p.config.MaxMessages {
			fmt.Printf("🏁 Достигнут лимит сообщений: %d\n", messageCount)
			return
		}
	}
}

// Stop останавливает издателя
func (p *TestPublisher) Stop() {
	if p.client.IsConnected() {
		p.client.Disconnect(1000)
		fmt.Println("🔌 Отключен от MQTT брокера")
	}
}

// nextUpdate выбирает операцию: новый объект или изменение цены и бейджей
// уже опубликованного. Update начинаются после первого десятка объектов.
func (p *TestPublisher) nextUpdate() *feedUpdate {
	if len(p.published) >= 10 && p.rand.Float64() < p.config.UpdateShare {
		prop := p.published[p.rand.Intn(len(p.published))]

		// Меняем цену в пределах ±20% и иногда бейджи
		prop.Price = prop.Price * (0.8 + p.rand.Float64()*0.4)
		if p.rand.Float64() < 0.2 {
			prop.IsFeatured = !prop.IsFeatured
		}
		if p.rand.Float64() < 0.1 {
			prop.IsPremium = !prop.IsPremium
		}

		return &feedUpdate{Operation: "update", Property: prop}
	}

	prop := p.newProperty()
	p.published = append(p.published, prop)
	return &feedUpdate{Operation: "add", Property: prop}
}

// newProperty генерирует объект со случайными координатами вокруг центра
func (p *TestPublisher) newProperty() feedProperty {
	// Грубое преобразование км в градусы, для тестовых данных достаточно
	latSpread := p.config.SpreadKm / 111.0
	lngSpread := p.config.SpreadKm / 85.0

	id := uuid.New().String()
	return feedProperty{
		ID:                   id,
		Name:                 fmt.Sprintf("Test listing %s", id[:8]),
		Latitude:             p.config.CenterLat + (p.rand.Float64()*2-1)*latSpread,
		Longitude:            p.config.CenterLng + (p.rand.Float64()*2-1)*lngSpread,
		Price:                50 + p.rand.Float64()*450,
		DateAdded:            time.Now().UTC().AddDate(0, 0, -p.rand.Intn(90)),
		Neighbourhood:        neighbourhoods[p.rand.Intn(len(neighbourhoods))],
		City:                 "New York",
		RoomType:             roomTypes[p.rand.Intn(len(roomTypes))],
		PropertyType:         propertyTypes[p.rand.Intn(len(propertyTypes))],
		CancellationPolicy:   policies[p.rand.Intn(len(policies))],
		HostIdentityVerified: pick(p.rand, "verified", "unconfirmed"),
		Purpose:              purposes[p.rand.Intn(len(purposes))],
		IsPremium:            p.rand.Float64() < 0.15,
		IsFeatured:           p.rand.Float64() < 0.25,
		IsVerified:           p.rand.Float64() < 0.5,
	}
}

// publishUpdate сериализует и публикует сообщение фида
func (p *TestPublisher) publishUpdate(update *feedUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	token := p.client.Publish(p.config.Topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("ошибка публикации в топик %s: %w", p.config.Topic, token.Error())
	}

	// Логирование для отладки
	fmt.Printf("📡 %s %s: %.4f, %.4f ($%.0f)\n",
		update.Operation, update.Property.ID[:8],
		update.Property.Latitude, update.Property.Longitude, update.Property.Price)

	return nil
}

func pick(r *rand.Rand, a, b string) string {
	if r.Float64() < 0.6 {
		return a
	}
	return b
}
