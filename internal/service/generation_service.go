package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tokenpay/internal/apperr"
	"tokenpay/internal/config"
	"tokenpay/internal/infrastructure/storage"
	"tokenpay/internal/model"
	"tokenpay/internal/provider"
	"tokenpay/internal/repository"
	"tokenpay/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 动画任务提交成功后的初始进度，以及轮询期间的进度上限
const (
	animationSubmittedProgress = 10
	animationMaxPollProgress   = 90
)

type StartTaskInput struct {
	UserID     int64
	Type       string
	Prompt     string
	Parameters map[string]interface{}
	Cost       int64
}

type ImageInput struct {
	Prompt    string
	Size      string
	Watermark *bool
	Images    []string
}

type ImageOutput struct {
	Task          *model.GenerationHistory `json:"task"`
	ImageURL      string                   `json:"image_url"`
	ImageURLs     []string                 `json:"image_urls"`
	TokenConsumed int64                    `json:"token_consumed"`
	Message       string                   `json:"message"`
}

type AnimationInput struct {
	Prompt   string
	ImageURL string
	Model    string
}

type HistoryPage struct {
	Items          []*model.GenerationHistory `json:"items"`
	Total          int64                      `json:"total"`
	Page           int                        `json:"page"`
	PageSize       int                        `json:"page_size"`
	TokensConsumed int64                      `json:"tokens_consumed"`
}

// GenerationService 生成任务跟踪
//
// 扣费发生在调用生成服务之前；任务失败不退还已扣 Token
type GenerationService struct {
	db           *gorm.DB
	genRepo      *repository.GenerationRepository
	tokenService *TokenService
	images       provider.ImageGenerator
	videos       provider.VideoGenerator
	mirror       *storage.Mirror
	arkCfg       config.ArkConfig

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewGenerationService mirror 为 nil 时不转存生成结果
func NewGenerationService(db *gorm.DB, tokenService *TokenService, images provider.ImageGenerator, videos provider.VideoGenerator, mirror *storage.Mirror, arkCfg config.ArkConfig) *GenerationService {
	if arkCfg.PollInterval <= 0 {
		arkCfg.PollInterval = provider.DefaultPollConfig.Interval
	}
	if arkCfg.PollTimeout <= 0 {
		arkCfg.PollTimeout = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GenerationService{
		db:           db,
		genRepo:      repository.NewGenerationRepository(db),
		tokenService: tokenService,
		images:       images,
		videos:       videos,
		mirror:       mirror,
		arkCfg:       arkCfg,
		baseCtx:      ctx,
		cancel:       cancel,
	}
}

func transactionTypeFor(genType string) (string, error) {
	switch genType {
	case model.GenerationTypeImage:
		return model.TransactionTypeImageGeneration, nil
	case model.GenerationTypeAnimation:
		return model.TransactionTypeVideoGeneration, nil
	default:
		return "", apperr.Validation("无效的生成类型: %s", genType)
	}
}

// StartTask 写入任务记录后扣费；扣费失败时任务标记为失败并返回错误
func (s *GenerationService) StartTask(ctx context.Context, in StartTaskInput) (*model.GenerationHistory, error) {
	txType, err := transactionTypeFor(in.Type)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, apperr.Validation("提示词不能为空")
	}
	if in.Cost < 0 {
		return nil, apperr.Validation("消耗数量不能为负数")
	}

	history := &model.GenerationHistory{
		UserID:     in.UserID,
		Type:       in.Type,
		Prompt:     in.Prompt,
		Parameters: in.Parameters,
		Status:     model.GenerationStatusProcessing,
		TaskID:     idgen.GenerateTaskID(),
	}
	if err := s.genRepo.Create(ctx, nil, history); err != nil {
		return nil, fmt.Errorf("创建生成任务失败: %w", err)
	}

	if in.Cost > 0 {
		txCtx := context.WithoutCancel(ctx)
		err = s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.tokenService.DebitTx(txCtx, tx, Mutation{
				UserID:      in.UserID,
				Type:        txType,
				Amount:      in.Cost,
				Description: debitDescription(in.Type),
				Metadata:    map[string]interface{}{"task_id": history.TaskID},
			}); err != nil {
				return err
			}
			return s.genRepo.SetTokenConsumed(txCtx, tx, history.TaskID, in.Cost)
		})
		if err != nil {
			if _, markErr := s.genRepo.MarkFailed(txCtx, history.TaskID, err.Error(), time.Now()); markErr != nil {
				logrus.WithError(markErr).WithField("task_id", history.TaskID).Error("[Generation] 标记任务失败出错")
			}
			return nil, err
		}
		history.TokenConsumed = in.Cost
	}

	logrus.WithFields(logrus.Fields{
		"task_id": history.TaskID,
		"user_id": in.UserID,
		"type":    in.Type,
		"cost":    in.Cost,
	}).Info("[Generation] 任务开始")
	return history, nil
}

func debitDescription(genType string) string {
	if genType == model.GenerationTypeAnimation {
		return "动画生成消耗"
	}
	return "图片生成消耗"
}

// UpdateProgress 只会提高未结束任务的进度
func (s *GenerationService) UpdateProgress(ctx context.Context, taskID string, progress int) error {
	if progress < 0 || progress > 100 {
		return apperr.Validation("进度必须在 0-100 之间")
	}
	rows, err := s.genRepo.UpdateProgress(ctx, taskID, progress)
	if err != nil {
		return err
	}
	if rows == 0 {
		_, err := s.genRepo.GetByTaskID(ctx, nil, taskID)
		return err
	}
	return nil
}

// Complete 终态，重复调用无副作用
func (s *GenerationService) Complete(ctx context.Context, taskID string, urls []string) error {
	rows, err := s.genRepo.MarkCompleted(ctx, taskID, urls, time.Now())
	if err != nil {
		return err
	}
	if rows == 0 {
		_, err := s.genRepo.GetByTaskID(ctx, nil, taskID)
		return err
	}
	logrus.WithField("task_id", taskID).Info("[Generation] 任务完成")
	return nil
}

// Fail 终态，重复调用无副作用
func (s *GenerationService) Fail(ctx context.Context, taskID, message string) error {
	rows, err := s.genRepo.MarkFailed(ctx, taskID, message, time.Now())
	if err != nil {
		return err
	}
	if rows == 0 {
		_, err := s.genRepo.GetByTaskID(ctx, nil, taskID)
		return err
	}
	logrus.WithFields(logrus.Fields{"task_id": taskID, "error": message}).Warn("[Generation] 任务失败")
	return nil
}

// precheck 在产生任何数据之前确认费用和余额
func (s *GenerationService) precheck(ctx context.Context, userID int64, txType string) (int64, error) {
	check, err := s.tokenService.CheckCost(ctx, userID, txType)
	if err != nil {
		return 0, err
	}
	if !check.CanAfford {
		return 0, fmt.Errorf("%w: 需要 %d，当前 %d", apperr.ErrInsufficientBalance, check.Cost, check.Balance)
	}
	return check.Cost, nil
}

// GenerateImage 同步生成图片
func (s *GenerationService) GenerateImage(ctx context.Context, userID int64, in ImageInput) (*ImageOutput, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, apperr.Validation("提示词不能为空")
	}
	cost, err := s.precheck(ctx, userID, model.TransactionTypeImageGeneration)
	if err != nil {
		return nil, err
	}

	size := in.Size
	if size == "" {
		size = s.arkCfg.ImageSize
	}
	watermark := s.arkCfg.Watermark
	if in.Watermark != nil {
		watermark = *in.Watermark
	}
	req := provider.ImageRequest{
		Prompt:        in.Prompt,
		Size:          size,
		GuidanceScale: s.arkCfg.Guidance,
		Seed:          s.arkCfg.Seed,
		Watermark:     watermark,
		Images:        in.Images,
	}

	task, err := s.StartTask(ctx, StartTaskInput{
		UserID: userID,
		Type:   model.GenerationTypeImage,
		Prompt: in.Prompt,
		Parameters: map[string]interface{}{
			"size":           req.Size,
			"guidance_scale": req.GuidanceScale,
			"seed":           req.Seed,
			"watermark":      req.Watermark,
			"images":         len(req.Images),
		},
		Cost: cost,
	})
	if err != nil {
		return nil, err
	}

	urls, err := s.images.GenerateImage(ctx, req)
	if err != nil {
		if failErr := s.Fail(context.WithoutCancel(ctx), task.TaskID, err.Error()); failErr != nil {
			logrus.WithError(failErr).WithField("task_id", task.TaskID).Error("[Generation] 记录失败状态出错")
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrGenerationFailed, err)
	}

	if s.mirror != nil {
		urls = s.mirror.MirrorAll(ctx, "images", urls)
	}
	if err := s.Complete(context.WithoutCancel(ctx), task.TaskID, urls); err != nil {
		return nil, err
	}

	task, err = s.genRepo.GetByTaskID(ctx, nil, task.TaskID)
	if err != nil {
		return nil, err
	}
	return &ImageOutput{
		Task:          task,
		ImageURL:      urls[0],
		ImageURLs:     urls,
		TokenConsumed: cost,
		Message:       fmt.Sprintf("图片生成成功，消耗 %d tokens", cost),
	}, nil
}

// GenerateAnimation 提交动画任务后立即返回，后台轮询直到结束
func (s *GenerationService) GenerateAnimation(ctx context.Context, userID int64, in AnimationInput) (*model.GenerationHistory, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, apperr.Validation("提示词不能为空")
	}
	cost, err := s.precheck(ctx, userID, model.TransactionTypeVideoGeneration)
	if err != nil {
		return nil, err
	}

	modelName := in.Model
	if modelName == "" {
		modelName = s.arkCfg.VideoModel
	}
	task, err := s.StartTask(ctx, StartTaskInput{
		UserID: userID,
		Type:   model.GenerationTypeAnimation,
		Prompt: in.Prompt,
		Parameters: map[string]interface{}{
			"image_url": in.ImageURL,
			"model":     modelName,
		},
		Cost: cost,
	})
	if err != nil {
		return nil, err
	}

	providerTaskID, err := s.videos.CreateVideoTask(ctx, provider.VideoRequest{
		Prompt:   in.Prompt,
		ImageURL: in.ImageURL,
		Model:    modelName,
	})
	if err != nil {
		if failErr := s.Fail(context.WithoutCancel(ctx), task.TaskID, err.Error()); failErr != nil {
			logrus.WithError(failErr).WithField("task_id", task.TaskID).Error("[Generation] 记录失败状态出错")
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrGenerationFailed, err)
	}

	// 远端任务已创建且已扣费，之后的记录写入失败也必须继续跟踪到终态
	bg := context.WithoutCancel(ctx)
	entry := logrus.WithFields(logrus.Fields{"task_id": task.TaskID, "provider_task_id": providerTaskID})
	if err := s.genRepo.SetProviderTaskID(bg, task.TaskID, providerTaskID); err != nil {
		entry.WithError(err).Error("[Generation] 记录远端任务ID失败，重启后无法恢复跟踪")
	} else {
		task.ProviderTaskID = providerTaskID
	}
	if err := s.UpdateProgress(bg, task.TaskID, animationSubmittedProgress); err != nil {
		entry.WithError(err).Warn("[Generation] 更新进度失败")
	}

	s.track(task.TaskID, providerTaskID)

	latest, err := s.genRepo.GetByTaskID(bg, nil, task.TaskID)
	if err != nil {
		entry.WithError(err).Warn("[Generation] 重新读取任务失败")
		return task, nil
	}
	return latest, nil
}

// track 后台轮询动画任务，受 poll_timeout 限制，服务关闭时取消
func (s *GenerationService) track(taskID, providerTaskID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		entry := logrus.WithFields(logrus.Fields{"task_id": taskID, "provider_task_id": providerTaskID})
		ctx, cancel := context.WithTimeout(s.baseCtx, s.arkCfg.PollTimeout)
		defer cancel()

		pollCfg := provider.PollConfig{
			Interval:    s.arkCfg.PollInterval,
			MaxAttempts: int(s.arkCfg.PollTimeout/s.arkCfg.PollInterval) + 1,
		}
		onProgress := func(t *provider.AsyncTask, attempt int) {
			if t.Status != provider.TaskStatusRunning {
				return
			}
			progress := animationSubmittedProgress + attempt*5
			if progress > animationMaxPollProgress {
				progress = animationMaxPollProgress
			}
			if err := s.UpdateProgress(ctx, taskID, progress); err != nil {
				entry.WithError(err).Warn("[Generation] 更新进度失败")
			}
		}

		result, err := provider.WaitForTask(ctx, s.videos, providerTaskID, pollCfg, onProgress)
		if err != nil {
			// 服务关闭导致的取消不算失败，重启后由 ResumePending 继续跟踪
			if s.baseCtx.Err() != nil {
				entry.Info("[Generation] 服务关闭，停止跟踪动画任务")
				return
			}
			message := err.Error()
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, provider.ErrPollExhausted) {
				message = "动画生成超时"
			}
			if failErr := s.Fail(context.Background(), taskID, message); failErr != nil {
				entry.WithError(failErr).Error("[Generation] 记录失败状态出错")
			}
			return
		}

		urls := result.ResultURLs
		if s.mirror != nil {
			mirrorCtx, mirrorCancel := context.WithTimeout(s.baseCtx, 5*time.Minute)
			urls = s.mirror.MirrorAll(mirrorCtx, "videos", urls)
			mirrorCancel()
		}
		if err := s.Complete(context.Background(), taskID, urls); err != nil {
			entry.WithError(err).Error("[Generation] 记录完成状态出错")
		}
	}()
}

// ResumePending 服务启动时恢复跟踪已提交但未结束的动画任务
func (s *GenerationService) ResumePending(ctx context.Context) (int, error) {
	histories, err := s.genRepo.ListUnfinishedWithProvider(ctx, model.GenerationTypeAnimation, 500)
	if err != nil {
		return 0, err
	}
	for _, h := range histories {
		s.track(h.TaskID, h.ProviderTaskID)
	}
	if len(histories) > 0 {
		logrus.Infof("[Generation] 恢复跟踪 %d 个动画任务", len(histories))
	}
	return len(histories), nil
}

// Close 取消后台轮询并等待退出
func (s *GenerationService) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *GenerationService) GetTask(ctx context.Context, userID int64, taskID string) (*model.GenerationHistory, error) {
	return s.genRepo.GetByTaskIDForUser(ctx, userID, taskID)
}

func (s *GenerationService) ListHistory(ctx context.Context, q repository.HistoryQuery) (*HistoryPage, error) {
	if q.Type != "" && q.Type != model.GenerationTypeImage && q.Type != model.GenerationTypeAnimation {
		return nil, apperr.Validation("无效的生成类型: %s", q.Type)
	}
	items, total, err := s.genRepo.List(ctx, q)
	if err != nil {
		return nil, err
	}
	consumed, err := s.genRepo.SumTokensConsumed(ctx, q)
	if err != nil {
		return nil, err
	}

	page, pageSize := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return &HistoryPage{
		Items:          items,
		Total:          total,
		Page:           page,
		PageSize:       pageSize,
		TokensConsumed: consumed,
	}, nil
}

func (s *GenerationService) DeleteHistory(ctx context.Context, userID, id int64) error {
	return s.genRepo.DeleteForUser(ctx, userID, id)
}
