package services

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
)

// MetricCardService PromQL 卡片
type MetricCardService struct {
	cards   store.MetricCardRepository
	gateway MetricsGateway
}

// NewMetricCardService 创建卡片服务
func NewMetricCardService(cards store.MetricCardRepository, gateway MetricsGateway) *MetricCardService {
	return &MetricCardService{cards: cards, gateway: gateway}
}

// ListCards 卡片列表
func (s *MetricCardService) ListCards(ctx context.Context, enabledOnly bool) ([]models.MetricCard, error) {
	return s.cards.ListCards(ctx, enabledOnly)
}

// CreateCard 新增卡片
func (s *MetricCardService) CreateCard(ctx context.Context, card *models.MetricCard) error {
	card.Title = strings.TrimSpace(card.Title)
	card.PromQL = strings.TrimSpace(card.PromQL)
	if card.Title == "" || card.PromQL == "" {
		return fmt.Errorf("%w: title 与 promql 不能为空", ErrInvalidInput)
	}
	if card.DisplayType == "" {
		card.DisplayType = "value"
	}
	if card.Category == "" {
		card.Category = "custom"
	}
	return s.cards.CreateCard(ctx, card)
}

// GetCard 获取单个卡片
func (s *MetricCardService) GetCard(ctx context.Context, id uint) (*models.MetricCard, error) {
	return s.cards.GetCard(ctx, id)
}

// CardUpdate 卡片的可修改字段，nil 表示不修改
type CardUpdate struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Icon            *string `json:"icon"`
	PromQL          *string `json:"promql"`
	Unit            *string `json:"unit"`
	DisplayType     *string `json:"display_type"`
	Category        *string `json:"category"`
	Thresholds      *string `json:"thresholds"`
	GrafanaPanelURL *string `json:"grafana_panel_url"`
	SortOrder       *int    `json:"sort_order"`
	Enabled         *bool   `json:"enabled"`
}

// UpdateCard 修改卡片
func (s *MetricCardService) UpdateCard(ctx context.Context, id uint, in CardUpdate) (*models.MetricCard, error) {
	card, err := s.cards.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&card.Title, in.Title)
	set(&card.Description, in.Description)
	set(&card.Icon, in.Icon)
	set(&card.PromQL, in.PromQL)
	set(&card.Unit, in.Unit)
	set(&card.DisplayType, in.DisplayType)
	set(&card.Category, in.Category)
	set(&card.Thresholds, in.Thresholds)
	set(&card.GrafanaPanelURL, in.GrafanaPanelURL)
	if in.SortOrder != nil {
		card.SortOrder = *in.SortOrder
	}
	if in.Enabled != nil {
		card.Enabled = *in.Enabled
	}
	if card.Title == "" || card.PromQL == "" {
		return nil, fmt.Errorf("%w: title 与 promql 不能为空", ErrInvalidInput)
	}
	if err := s.cards.UpdateCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// DeleteCard 删除卡片
func (s *MetricCardService) DeleteCard(ctx context.Context, id uint) error {
	return s.cards.DeleteCard(ctx, id)
}

// QueryCard 查询单个卡片并按阈值判定级别
func (s *MetricCardService) QueryCard(ctx context.Context, id uint) (*models.CardResult, error) {
	card, err := s.cards.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	r := s.evaluate(ctx, *card)
	return &r, nil
}

// QueryAll 并发查询所有启用的卡片，结果顺序与卡片顺序一致
func (s *MetricCardService) QueryAll(ctx context.Context) ([]models.CardResult, error) {
	cards, err := s.cards.ListCards(ctx, true)
	if err != nil {
		return nil, err
	}
	results := make([]models.CardResult, len(cards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range cards {
		i := i
		g.Go(func() error {
			results[i] = s.evaluate(gctx, cards[i])
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Test 执行任意 PromQL
func (s *MetricCardService) Test(ctx context.Context, promql string) models.QueryResult {
	return s.gateway.Query(ctx, promql)
}

// Health Prometheus 是否可用
func (s *MetricCardService) Health(ctx context.Context) models.QueryResult {
	return s.gateway.Health(ctx)
}

// evaluate 查询成功时判定级别，没有阈值的卡片视为 healthy
func (s *MetricCardService) evaluate(ctx context.Context, card models.MetricCard) models.CardResult {
	r := models.CardResult{Card: card, Result: s.gateway.Query(ctx, card.PromQL)}
	t, ok := models.ParseThresholds(card.Thresholds)
	r.HasThreshold = ok
	if r.Result.Status != models.GatewayOK {
		return r
	}
	switch {
	case !ok:
		r.Level = models.StatusHealthy
	case r.Result.Value != nil:
		r.Level = t.Classify(*r.Result.Value)
	}
	return r
}
