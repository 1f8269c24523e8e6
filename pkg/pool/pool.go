package pool

import (
	"bytes"
	"sync"
)

// ObjectPools содержит пулы объектов для переиспользования на горячих путях:
// сериализация бакетов кеша, сбор ключей при инвалидации, фильтры агрегации
type ObjectPools struct {
	bufferPool      sync.Pool
	stringSlicePool sync.Pool
	stringMapPool   sync.Pool
}

// Global пулы объектов
var Global = &ObjectPools{
	bufferPool: sync.Pool{
		New: func() interface{} {
			return bytes.NewBuffer(make([]byte, 0, 4096))
		},
	},
	stringSlicePool: sync.Pool{
		New: func() interface{} {
			s := make([]string, 0, 64)
			return &s
		},
	},
	stringMapPool: sync.Pool{
		New: func() interface{} {
			return make(map[string]string)
		},
	},
}

// GetBuffer получает буфер для сериализации из пула
func (p *ObjectPools) GetBuffer() *bytes.Buffer {
	return p.bufferPool.Get().(*bytes.Buffer)
}

// PutBuffer возвращает буфер в пул
func (p *ObjectPools) PutBuffer(buf *bytes.Buffer) {
	buf.Reset()
	p.bufferPool.Put(buf)
}

// GetStringSlice получает пустой срез строк из пула
func (p *ObjectPools) GetStringSlice() []string {
	return (*p.stringSlicePool.Get().(*[]string))[:0]
}

// PutStringSlice возвращает срез строк в пул
func (p *ObjectPools) PutStringSlice(s []string) {
	p.stringSlicePool.Put(&s)
}

// GetStringMap получает map[string]string из пула
func (p *ObjectPools) GetStringMap() map[string]string {
	m := p.stringMapPool.Get().(map[string]string)
	// Очищаем map
	for k := range m {
		delete(m, k)
	}
	return m
}

// PutStringMap возвращает map[string]string в пул
func (p *ObjectPools) PutStringMap(m map[string]string) {
	p.stringMapPool.Put(m)
}
