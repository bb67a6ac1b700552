// internal/service/offer/application/campaign_saga.go
package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// CampaignSaga 把 OfferSaga 并发地展开到 campaign 的各个区域。
// 区域之间相互独立：一个区域失败不会取消其他区域。
type CampaignSaga struct {
	offers      *OfferSaga
	repo        domain.Repository
	cache       collaborator.Cache
	concurrency int
}

func NewCampaignSaga(offers *OfferSaga, repo domain.Repository, cache collaborator.Cache, concurrency int) *CampaignSaga {
	if concurrency < 1 {
		concurrency = 1
	}
	return &CampaignSaga{offers: offers, repo: repo, cache: cache, concurrency: concurrency}
}

// Get 返回 campaign 及其全部区域 offer。
func (s *CampaignSaga) Get(ctx context.Context, kind domain.Kind, id string) (*domain.Campaign, error) {
	offers, err := s.repo.FindByCampaign(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 {
		return nil, fmt.Errorf("%w: campaign %s", domain.ErrOfferNotFound, id)
	}
	return &domain.Campaign{ID: id, Kind: kind, Offers: offers}, nil
}

func checkRegions(offers []CampaignOffer) error {
	if len(offers) == 0 {
		return fmt.Errorf("%w: campaign has no offers", domain.ErrInvalidOffer)
	}
	seen := make(map[string]struct{}, len(offers))
	for _, o := range offers {
		key := strings.ToUpper(o.StoreCode) + "/" + o.OfferCode
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate region offer %s", domain.ErrInvalidOffer, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Create 在 env 中创建 campaign 的全部区域 offer。campaign id 为空时分配一个新的。
func (s *CampaignSaga) Create(ctx context.Context, req CampaignRequest) (*CampaignResult, error) {
	ctx = context.WithoutCancel(ctx)
	if err := checkRegions(req.Offers); err != nil {
		return nil, err
	}
	if req.Campaign == "" {
		req.Campaign = uuid.NewString()
	}

	jobs := make([]func(ctx context.Context) (*Result, error), len(req.Offers))
	for i, item := range req.Offers {
		cr := CreateRequest{
			OfferRef:          OfferRef{Kind: req.Kind, StoreCode: item.StoreCode, OfferCode: item.OfferCode},
			Env:               req.Env,
			Campaign:          req.Campaign,
			DeferContentCache: true,
		}
		// published 只推广 staged 已验证的载荷。
		if req.Env == collaborator.EnvStaged {
			d := item.Draft
			cr.Draft = &d
		}
		jobs[i] = func(ctx context.Context) (*Result, error) { return s.offers.Create(ctx, cr) }
	}
	regions := s.fanOut(ctx, req.Offers, jobs)
	return s.finish(ctx, req, regions), nil
}

// Update 按载荷调和 campaign 成员：只在载荷中的区域被创建，两边都有的区域被更新
// （在 env 中允许创建的成员重新创建），
// 只在数据库中的区域仅当仍是 local-draft 时删除，否则该区域报告策略错误。
func (s *CampaignSaga) Update(ctx context.Context, req CampaignRequest) (*CampaignResult, error) {
	ctx = context.WithoutCancel(ctx)
	if req.Campaign == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrInvalidOffer)
	}
	if err := checkRegions(req.Offers); err != nil {
		return nil, err
	}
	existing, err := s.repo.FindByCampaign(ctx, req.Kind, req.Campaign)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*domain.Offer, len(existing))
	for _, o := range existing {
		byKey[o.Key()] = o
	}

	items := append([]CampaignOffer(nil), req.Offers...)
	jobs := make([]func(ctx context.Context) (*Result, error), 0, len(items)+len(existing))
	for _, item := range req.Offers {
		ref := OfferRef{Kind: req.Kind, StoreCode: strings.ToUpper(item.StoreCode), OfferCode: item.OfferCode}
		draft := item.Draft
		current, ok := byKey[ref.StoreCode+"/"+ref.OfferCode]
		delete(byKey, ref.StoreCode+"/"+ref.OfferCode)

		switch {
		case !ok:
			cr := CreateRequest{OfferRef: ref, Env: req.Env, Campaign: req.Campaign, Draft: &draft, DeferContentCache: true}
			jobs = append(jobs, func(ctx context.Context) (*Result, error) { return s.offers.Create(ctx, cr) })
		case current.Status == domain.StatusLocalDraft:
			dr := DraftRequest{OfferRef: ref, Campaign: req.Campaign, Draft: draft}
			jobs = append(jobs, func(ctx context.Context) (*Result, error) {
				o, err := s.offers.SaveDraft(ctx, dr)
				if err != nil {
					return nil, err
				}
				return &Result{Offer: o, Message: "draft saved"}, nil
			})
		case domain.IsAllowedForCreate(req.Env, current.Status):
			// 该环境的创建失败过或尚未创建，重新走创建流程。
			cr := CreateRequest{OfferRef: ref, Env: req.Env, Campaign: req.Campaign, DeferContentCache: true}
			if req.Env == collaborator.EnvStaged {
				cr.Draft = &draft
			}
			jobs = append(jobs, func(ctx context.Context) (*Result, error) { return s.offers.Create(ctx, cr) })
		default:
			ur := UpdateRequest{OfferRef: ref, Env: req.Env, Draft: draft, DeferContentCache: true}
			jobs = append(jobs, func(ctx context.Context) (*Result, error) { return s.offers.Update(ctx, ur) })
		}
	}

	for _, o := range existing {
		if _, leftover := byKey[o.Key()]; !leftover {
			continue
		}
		items = append(items, CampaignOffer{StoreCode: o.StoreCode, OfferCode: o.OfferCode})
		ref := OfferRef{Kind: o.Kind, StoreCode: o.StoreCode, OfferCode: o.OfferCode}
		jobs = append(jobs, func(ctx context.Context) (*Result, error) {
			if err := s.offers.DiscardDraft(ctx, ref); err != nil {
				return nil, err
			}
			return &Result{Message: "draft removed from campaign"}, nil
		})
	}

	regions := s.fanOut(ctx, items, jobs)
	return s.finish(ctx, req, regions), nil
}

// fanOut 以有限并发执行 jobs，结果按输入顺序排列。
func (s *CampaignSaga) fanOut(ctx context.Context, items []CampaignOffer, jobs []func(ctx context.Context) (*Result, error)) []RegionResult {
	results := make([]RegionResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := job(ctx)
			r := RegionResult{StoreCode: strings.ToUpper(items[i].StoreCode), OfferCode: items[i].OfferCode, Err: err}
			if res != nil && res.Offer != nil {
				r.Status = res.Offer.Status
			}
			switch {
			case err != nil:
				r.Message = err.Error()
			case res != nil:
				r.Message = res.Message
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// finish 在全部区域结束后为 env 清理一次内容缓存，并拼接消息。
func (s *CampaignSaga) finish(ctx context.Context, req CampaignRequest, regions []RegionResult) *CampaignResult {
	short := req.Env.Short()
	log := logger.Ctx(ctx).With().Str("campaign", req.Campaign).Str("env", string(req.Env)).Logger()

	lines := make([]string, 0, len(regions)+1)
	succeeded := 0
	for _, r := range regions {
		if r.Err == nil {
			succeeded++
		}
		detail := strings.TrimPrefix(r.Message, "["+short+"] ")
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", short, r.StoreCode, detail))
	}

	if succeeded > 0 && s.cache != nil {
		if err := s.cache.ClearCache(ctx, req.Env, collaborator.CacheContent); err != nil {
			log.Error().Err(err).Msg("content cache clear after campaign failed")
			lines = append(lines, fmt.Sprintf("[%s] content cache: %v", short, err))
		}
	}
	log.Info().Int("regions", len(regions)).Int("succeeded", succeeded).Msg("campaign saga finished")

	return &CampaignResult{
		Campaign: req.Campaign,
		Env:      req.Env,
		Regions:  regions,
		Message:  strings.Join(lines, "\n"),
	}
}
