package hashmap

type BaseHashMap[K any, V any] interface {
	Delete(K)
	Load(K) (val V, loaded bool)
	LoadOrStore(K, V) (val V, loaded bool)

	// Range iterates over the map's key/value pairs; if the callback function returns false, iteration stops.
	Range(func(K, V) (contd bool))

	Store(K, V)
}

type HashMap[K any, V any] interface {
	BaseHashMap[K, V]
	Len() int
}
