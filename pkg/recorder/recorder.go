package recorder

import (
	"os"
	"sync"

	"github.com/goccy/go-json"
)

// JSONFileRecorder 按行追加JSON记录，用作成交流水的本地留档。
// 文件句柄常驻，并发写靠互斥锁串行
type JSONFileRecorder struct {
	mu   sync.Mutex
	file *os.File
}

func NewJSONFileRecorder(path string) (*JSONFileRecorder, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &JSONFileRecorder{file: file}, nil
}

func (r *JSONFileRecorder) Record(result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.file.Write(data)
	return err
}

func (r *JSONFileRecorder) Close() error {
	return r.file.Close()
}
