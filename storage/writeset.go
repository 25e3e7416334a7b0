package storage

type writeOp struct {
	value []byte
	del   bool
}

// bufferedTxn stages writes in memory on top of a read function. Backends
// without native transactions apply the staged ops in one batch on commit.
type bufferedTxn struct {
	read     func(key []byte) ([]byte, error)
	ops      map[string]writeOp
	writable bool
}

func newBufferedTxn(read func(key []byte) ([]byte, error), writable bool) *bufferedTxn {
	return &bufferedTxn{
		read:     read,
		ops:      make(map[string]writeOp),
		writable: writable,
	}
}

func (t *bufferedTxn) Get(key []byte) ([]byte, error) {
	if op, ok := t.ops[string(key)]; ok {
		if op.del {
			return nil, ErrNotFound
		}
		return cloneBytes(op.value), nil
	}
	return t.read(key)
}

func (t *bufferedTxn) Has(key []byte) (bool, error) {
	_, err := t.Get(key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *bufferedTxn) Put(key, value []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	t.ops[string(key)] = writeOp{value: cloneBytes(value)}
	return nil
}

func (t *bufferedTxn) Delete(key []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	t.ops[string(key)] = writeOp{del: true}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
