package service

import (
	"context"

	"escrowledger/internal/config"
	"escrowledger/internal/model"
	"escrowledger/internal/repository"

	"gorm.io/gorm"
)

type QueryService struct {
	cfg        *config.Config
	escrowRepo *repository.EscrowRepository
	indexRepo  *repository.IndexRepository
}

func NewQueryService(db *gorm.DB, cfg *config.Config) *QueryService {
	return &QueryService{
		cfg:        cfg,
		escrowRepo: repository.NewEscrowRepository(db),
		indexRepo:  repository.NewIndexRepository(db),
	}
}

// FetchEscrow 按ID查询单笔托管
// 不存在时返回零值记录而不是报错，调用方以 id == 0 识别"未找到"
func (s *QueryService) FetchEscrow(ctx context.Context, escrowID int64) (*model.Escrow, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if escrow == nil {
		return &model.Escrow{}, nil
	}
	return escrow, nil
}

// FetchMyEscrows 账户维度枚举
// 平台账户返回全部托管（按ID升序全扫）；普通账户走索引表，
// 按追加顺序返回（买方侧与卖方侧按各自发生的时间交错）
func (s *QueryService) FetchMyEscrows(ctx context.Context, callerID int64) ([]*model.Escrow, error) {
	if callerID == s.cfg.Business.OwnerAccountID {
		return s.escrowRepo.ListAll(ctx)
	}

	ids, err := s.indexRepo.ListEscrowIDs(ctx, callerID)
	if err != nil {
		return nil, err
	}
	return s.escrowRepo.ListByIDs(ctx, ids)
}

type PaginatedEscrows struct {
	Items       []*model.Escrow `json:"items"`
	TotalCount  int64           `json:"total_count"`
	HasNextPage bool            `json:"has_next_page"`
	NextCursor  int64           `json:"next_cursor"`
}

// FetchEscrowsPaginated 游标分页
// cursor 是零基偏移量；有效页长 = min(pageSize, total - cursor)，
// cursor 越界时返回空页而不是报错，绝不越过 total 取数
func (s *QueryService) FetchEscrowsPaginated(ctx context.Context, callerID, cursor int64, pageSize int) (*PaginatedEscrows, error) {
	if cursor < 0 {
		cursor = 0
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	isOwner := callerID == s.cfg.Business.OwnerAccountID

	var total int64
	var err error
	if isOwner {
		total, err = s.escrowRepo.CountAll(ctx)
	} else {
		total, err = s.indexRepo.Count(ctx, callerID)
	}
	if err != nil {
		return nil, err
	}

	length := int64(pageSize)
	if cursor >= total {
		length = 0
	} else if cursor+length > total {
		length = total - cursor
	}

	items := []*model.Escrow{}
	if length > 0 {
		if isOwner {
			items, err = s.escrowRepo.ListPage(ctx, int(cursor), int(length))
		} else {
			var ids []int64
			ids, err = s.indexRepo.ListEscrowIDsPage(ctx, callerID, int(cursor), int(length))
			if err == nil {
				items, err = s.escrowRepo.ListByIDs(ctx, ids)
			}
		}
		if err != nil {
			return nil, err
		}
	}

	fetched := int64(len(items))
	return &PaginatedEscrows{
		Items:       items,
		TotalCount:  total,
		HasNextPage: cursor+fetched < total,
		NextCursor:  cursor + fetched,
	}, nil
}
