package worker

import (
	"errors"
	"sync"

	"go-annotation-service/pkg/logger"

	"go.uber.org/zap"
)

// Pool 有界工作池 承接请求路径之外的扇出工作
// 队列满时Submit直接报错 调用方记录后丢弃 扇出是尽力而为的
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

func NewPool(size, queueSize int) *Pool {
	if size <= 0 {
		size = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Pool{tasks: make(chan func(), queueSize)}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		func() {
			// 单个任务的panic不能拖垮工作池
			defer func() {
				if r := recover(); r != nil {
					logger.L.Error("worker task panicked", zap.Any("panic", r))
				}
			}()
			task()
		}()
	}
}

var ErrQueueFull = errors.New("worker queue is full")

// Submit 非阻塞提交 队列满返回ErrQueueFull
func (p *Pool) Submit(task func()) error {
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop 关闭队列并等待在途任务完成
func (p *Pool) Stop() {
	p.once.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
