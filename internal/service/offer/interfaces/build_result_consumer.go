package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/mq"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/application"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// MessageReader 是 *kafka.Reader 中消费者用到的部分。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BuildResultHandler 处理一次构建回调。
type BuildResultHandler interface {
	HandleBuildResult(ctx context.Context, res collaborator.BuildResult) (*application.Result, error)
}

// BuildResultConsumer 是一个驱动适配器，它监听构建结果主题并驱动 OfferSaga。
type BuildResultConsumer struct {
	reader  MessageReader
	topic   string
	handler BuildResultHandler
	failure *mq.FailureHandler

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewBuildResultConsumer(reader MessageReader, topic string, handler BuildResultHandler, failure *mq.FailureHandler) *BuildResultConsumer {
	return &BuildResultConsumer{reader: reader, topic: topic, handler: handler, failure: failure}
}

// Start 在后台开始消费，直到 Stop 或 ctx 结束。
func (c *BuildResultConsumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		log := logger.Ctx(ctx).With().Str("topic", c.topic).Logger()
		log.Info().Msg("✅ Build result consumer started.")
		for {
			// 使用 FetchMessage 而不是 ReadMessage，处理完成后再显式提交
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					log.Info().Msg("🛑 Build result consumer shutting down.")
					return
				}
				log.Error().Err(err).Msg("could not fetch message, retrying")
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			msgCtx := mq.ExtractContext(ctx, msg)
			if err := c.process(msgCtx, msg); err != nil {
				c.failure.Handle(msgCtx, msg, err)
			}
			// 无论成功或移交死信，都提交 offset
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				log.Error().Err(err).Msg("failed to commit message")
			}
		}
	}()
	return nil
}

// Stop 优雅地停止消费者。
func (c *BuildResultConsumer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.reader.Close()
	c.wg.Wait()
	logger.Ctx(ctx).Info().Str("topic", c.topic).Msg("✅ Build result consumer stopped.")
	return err
}

// process 反序列化消息并调用应用服务。只有可以重放的错误才返回给调用方转入死信。
func (c *BuildResultConsumer) process(ctx context.Context, msg kafka.Message) error {
	var res collaborator.BuildResult
	if err := json.Unmarshal(msg.Value, &res); err != nil {
		return errors.Wrap(err, "decode build result")
	}
	if res.BuildKey == "" {
		return errors.New("build result without build key")
	}
	log := logger.Ctx(ctx).With().Str("build", res.BuildKey).Bool("success", res.Success).Logger()

	out, err := c.handler.HandleBuildResult(ctx, res)
	switch {
	case err == nil:
		log.Info().Msg(messageOf(out, nil))
		return nil
	case handledBuildFailure(res, err):
		log.Warn().Err(err).Msg("build failed, offer rolled back")
		return nil
	case errors.Is(err, domain.ErrStatusNotAllowed), errors.Is(err, domain.ErrOfferNotFound):
		log.Warn().Err(err).Msg("ignoring stale build result")
		return nil
	case remote.IsCompensationFailure(err):
		log.Error().Err(err).Msg("build rollback failed, manual intervention required")
		return nil
	default:
		return err
	}
}
