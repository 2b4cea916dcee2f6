package service

import (
	"context"
	"strings"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PayoutService batches residual customer balances into SEPA payout runs.
type PayoutService interface {
	CreatePayoutRun(ctx context.Context, actor *Actor, nodeID int64, req dto.CreatePayoutRunRequest) (*dto.PayoutRunResponse, error)
	ListPayoutRuns(ctx context.Context, actor *Actor, nodeID int64) ([]dto.PayoutRunResponse, error)
	ListPayouts(ctx context.Context, actor *Actor, nodeID, runID int64) ([]model.Payout, error)
	SepaXML(ctx context.Context, actor *Actor, nodeID, runID int64, req dto.SepaXMLRequest) ([]byte, error)
	CSV(ctx context.Context, actor *Actor, nodeID, runID int64) ([]byte, error)
	SetDone(ctx context.Context, actor *Actor, nodeID, runID int64) (*dto.PayoutRunResponse, error)
	Revoke(ctx context.Context, actor *Actor, nodeID, runID int64) (*dto.PayoutRunResponse, error)
}

type payoutService struct {
	store  *repository.Store
	ledger LedgerService
	auth   *Authorizer
	audit  AuditService
	mails  MailService
	now    Clock
}

func NewPayoutService(store *repository.Store, ledger LedgerService, auth *Authorizer, audit AuditService, mails MailService) PayoutService {
	return &payoutService{store: store, ledger: ledger, auth: auth, audit: audit, mails: mails, now: time.Now}
}

// guard checks privilege and object permission and resolves the event.
func (s *payoutService) guard(ctx context.Context, tx *gorm.DB, actor *Actor, nodeID int64) (*model.Node, *model.Event, error) {
	if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivPayoutManagement); err != nil {
		return nil, nil, err
	}
	if err := s.auth.CheckObjectAllowed(ctx, tx, nodeID, model.ObjectPayout); err != nil {
		return nil, nil, err
	}
	return eventOf(ctx, s.store.Tree, tx, nodeID)
}

func (s *payoutService) run(ctx context.Context, tx *gorm.DB, eventNodeID, runID int64, lock bool) (*model.PayoutRun, error) {
	var (
		run *model.PayoutRun
		err error
	)
	if lock {
		run, err = s.store.Payouts.LockPayoutRun(ctx, tx, runID)
	} else {
		run, err = s.store.Payouts.GetPayoutRun(ctx, tx, runID)
	}
	if err != nil {
		return nil, lookup(err, "payout run %d not found", runID)
	}
	if err := ownedBy(run.NodeID, eventNodeID, "payout run", runID); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *payoutService) response(ctx context.Context, tx *gorm.DB, run *model.PayoutRun) (*dto.PayoutRunResponse, error) {
	payouts, err := s.store.Payouts.ListPayouts(ctx, tx, run.ID)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	resp := &dto.PayoutRunResponse{
		ID:            run.ID,
		NodeID:        run.NodeID,
		CreatedBy:     run.CreatedBy,
		CreatedAt:     run.CreatedAt,
		Done:          run.Done,
		Revoked:       run.Revoked,
		SetDoneAt:     run.SetDoneAt,
		SetDoneBy:     run.SetDoneBy,
		TotalAmount:   decimal.Zero,
		TotalDonation: decimal.Zero,
		NumPayouts:    len(payouts),
	}
	for _, p := range payouts {
		resp.TotalAmount = resp.TotalAmount.Add(p.Amount)
		resp.TotalDonation = resp.TotalDonation.Add(p.Donation)
	}
	return resp, nil
}

// selectPayouts picks candidates in account order while both limits hold.
func selectPayouts(candidates []repository.PayoutCandidate, maxSum decimal.Decimal, maxNum int) []model.Payout {
	var (
		selected []model.Payout
		sum      = decimal.Zero
	)
	for _, c := range candidates {
		if len(selected) >= maxNum {
			break
		}
		ci := &model.CustomerInfo{Donation: c.Donation, DonateAll: c.DonateAll}
		amount := payoutAmount(c.Balance, ci)
		if !amount.IsPositive() {
			continue
		}
		if sum.Add(amount).GreaterThan(maxSum) {
			break
		}
		sum = sum.Add(amount)
		donation := c.Balance.Sub(amount)
		selected = append(selected, model.Payout{
			CustomerAccountID: c.CustomerAccountID,
			IBAN:              c.IBAN,
			AccountName:       c.AccountName,
			Email:             c.Email,
			UserTagUID:        c.UserTagUID,
			Amount:            amount,
			Donation:          donation,
		})
	}
	return selected
}

func (s *payoutService) CreatePayoutRun(ctx context.Context, actor *Actor, nodeID int64, req dto.CreatePayoutRunRequest) (*dto.PayoutRunResponse, error) {
	if !req.MaxPayoutSum.IsPositive() || req.MaxNumPayouts <= 0 {
		return nil, apierror.InvalidArgument("max_payout_sum and max_num_payouts must be positive")
	}
	var resp *dto.PayoutRunResponse
	err := runSerializable(ctx, s.store.DB(), func(tx *gorm.DB) error {
		eventNode, event, err := s.guard(ctx, tx, actor, nodeID)
		if err != nil {
			return err
		}
		if !event.SepaEnabled {
			return apierror.InvalidArgument("sepa payouts are disabled for this event")
		}
		if req.MaxNumPayouts > event.SepaMaxNumPayoutsInRun {
			return apierror.InvalidArgument("at most %d payouts are allowed per run", event.SepaMaxNumPayoutsInRun)
		}
		candidates, err := s.store.Payouts.ListPayoutCandidates(ctx, tx, eventNode.ID)
		if err != nil {
			return apierror.FromDB(err)
		}
		payouts := selectPayouts(candidates, req.MaxPayoutSum, req.MaxNumPayouts)
		if len(payouts) == 0 {
			return apierror.InvalidArgument("no customers qualify for a payout")
		}

		run := &model.PayoutRun{NodeID: eventNode.ID, CreatedBy: actor.Login, CreatedAt: s.now()}
		if err := s.store.Payouts.CreatePayoutRun(ctx, tx, run); err != nil {
			return apierror.FromDB(err)
		}
		ids := make([]int64, 0, len(payouts))
		for i := range payouts {
			payouts[i].PayoutRunID = run.ID
			if err := s.store.Payouts.CreatePayout(ctx, tx, &payouts[i]); err != nil {
				return apierror.FromDB(err)
			}
			ids = append(ids, payouts[i].CustomerAccountID)
		}
		if err := s.store.Payouts.SetPayoutRunOfCustomers(ctx, tx, ids, &run.ID); err != nil {
			return apierror.FromDB(err)
		}
		body, err := buildPayoutCSV(sepaConfigOf(event, s.now()), payouts)
		if err != nil {
			return apierror.Internal("render payout csv: %v", err)
		}
		run.CSV = &body
		if err := s.store.Payouts.UpdatePayoutRun(ctx, tx, run); err != nil {
			return apierror.FromDB(err)
		}

		if resp, err = s.response(ctx, tx, run); err != nil {
			return err
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditPayoutRunCreated, UserID: &actor.UserID, Content: resp})
		return nil
	})
	if err == nil {
		log.Info().Int64("payout_run_id", resp.ID).Int("payouts", resp.NumPayouts).
			Str("total", resp.TotalAmount.StringFixed(2)).Msg("payout: run created")
	}
	return resp, err
}

func (s *payoutService) ListPayoutRuns(ctx context.Context, actor *Actor, nodeID int64) ([]dto.PayoutRunResponse, error) {
	var out []dto.PayoutRunResponse
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		eventNode, _, err := s.guard(ctx, tx, actor, nodeID)
		if err != nil {
			return err
		}
		runs, err := s.store.Payouts.ListPayoutRuns(ctx, tx, eventNode.ID)
		if err != nil {
			return apierror.FromDB(err)
		}
		out = make([]dto.PayoutRunResponse, 0, len(runs))
		for i := range runs {
			resp, err := s.response(ctx, tx, &runs[i])
			if err != nil {
				return err
			}
			out = append(out, *resp)
		}
		return nil
	})
	return out, err
}

func (s *payoutService) ListPayouts(ctx context.Context, actor *Actor, nodeID, runID int64) ([]model.Payout, error) {
	var payouts []model.Payout
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		eventNode, _, err := s.guard(ctx, tx, actor, nodeID)
		if err != nil {
			return err
		}
		if _, err := s.run(ctx, tx, eventNode.ID, runID, false); err != nil {
			return err
		}
		payouts, err = s.store.Payouts.ListPayouts(ctx, tx, runID)
		return apierror.FromDB(err)
	})
	return payouts, err
}

func (s *payoutService) SepaXML(ctx context.Context, actor *Actor, nodeID, runID int64, req dto.SepaXMLRequest) ([]byte, error) {
	execution, err := time.ParseInLocation("2006-01-02", req.ExecutionDate, time.Local)
	if err != nil {
		return nil, apierror.InvalidArgument("invalid execution date %q", req.ExecutionDate)
	}
	var body []byte
	err = runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		eventNode, event, err := s.guard(ctx, tx, actor, nodeID)
		if err != nil {
			return err
		}
		run, err := s.run(ctx, tx, eventNode.ID, runID, true)
		if err != nil {
			return err
		}
		if run.Revoked {
			return apierror.Conflict("payout run %d was revoked", runID)
		}
		payouts, err := s.store.Payouts.ListPayouts(ctx, tx, runID)
		if err != nil {
			return apierror.FromDB(err)
		}
		if body, err = buildSepaXML(sepaConfigOf(event, execution), runID, payouts, s.now()); err != nil {
			return err
		}
		xmlBody := string(body)
		run.SepaXML = &xmlBody
		run.ExecutionDate = &execution
		if err := s.store.Payouts.UpdatePayoutRun(ctx, tx, run); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditPayoutRunSepaXML, UserID: &actor.UserID,
			Content: map[string]any{"payout_run_id": runID, "execution_date": req.ExecutionDate}})
		return nil
	})
	return body, err
}

func (s *payoutService) CSV(ctx context.Context, actor *Actor, nodeID, runID int64) ([]byte, error) {
	var body []byte
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		eventNode, event, err := s.guard(ctx, tx, actor, nodeID)
		if err != nil {
			return err
		}
		run, err := s.run(ctx, tx, eventNode.ID, runID, false)
		if err != nil {
			return err
		}
		if run.CSV != nil {
			body = []byte(*run.CSV)
			return nil
		}
		payouts, err := s.store.Payouts.ListPayouts(ctx, tx, runID)
		if err != nil {
			return apierror.FromDB(err)
		}
		csvBody, err := buildPayoutCSV(sepaConfigOf(event, s.now()), payouts)
		if err != nil {
			return apierror.Internal("render payout csv: %v", err)
		}
		body = []byte(csvBody)
		return nil
	})
	return body, err
}

// SetDone books the refunds and donations of every payout of the run.
func (s *payoutService) SetDone(ctx context.Context, actor *Actor, nodeID, runID int64) (*dto.PayoutRunResponse, error) {
	var resp *dto.PayoutRunResponse
	err := runSerializable(ctx, s.store.DB(), func(tx *gorm.DB) error {
		eventNode, event, err := s.guard(ctx, tx, actor, nodeID)
		if err != nil {
			return err
		}
		run, err := s.run(ctx, tx, eventNode.ID, runID, true)
		if err != nil {
			return err
		}
		if run.Done {
			return apierror.Conflict("payout run %d is already done", runID)
		}
		if run.Revoked {
			return apierror.Conflict("payout run %d was revoked", runID)
		}
		payouts, err := s.store.Payouts.ListPayouts(ctx, tx, runID)
		if err != nil {
			return apierror.FromDB(err)
		}
		sepaExit, err := s.ledger.SystemAccount(ctx, tx, eventNode.ID, model.AccountSepaExit)
		if err != nil {
			return err
		}
		donationExit, err := s.ledger.SystemAccount(ctx, tx, eventNode.ID, model.AccountDonationExit)
		if err != nil {
			return err
		}

		postings := make([]Posting, 0, 2*len(payouts))
		for _, p := range payouts {
			postings = append(postings,
				Posting{Source: p.CustomerAccountID, Target: sepaExit.ID, Amount: p.Amount, Description: "payout"},
				Posting{Source: p.CustomerAccountID, Target: donationExit.ID, Amount: p.Donation, Description: "donation"},
			)
		}
		if _, err := s.ledger.Book(ctx, tx, Booking{BookedAt: s.now(), ConductingUserID: &actor.UserID, Postings: postings}); err != nil {
			return err
		}

		if event.EmailEnabled {
			for _, p := range payouts {
				if p.Email != "" {
					s.notifyPayoutDone(ctx, tx, eventNode.ID, event, p)
				}
			}
		}

		now := s.now()
		run.Done = true
		run.SetDoneAt = &now
		run.SetDoneBy = &actor.Login
		if err := s.store.Payouts.UpdatePayoutRun(ctx, tx, run); err != nil {
			return apierror.FromDB(err)
		}
		if resp, err = s.response(ctx, tx, run); err != nil {
			return err
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditPayoutRunSetDone, UserID: &actor.UserID, Content: resp})
		return nil
	})
	return resp, err
}

// notifyPayoutDone queues the payout confirmation. A rejected or failed mail
// never holds back the booked run.
func (s *payoutService) notifyPayoutDone(ctx context.Context, tx *gorm.DB, nodeID int64, event *model.Event, p model.Payout) {
	const sp = "payout_mail"
	if tx != nil {
		if err := tx.SavePoint(sp).Error; err != nil {
			log.Warn().Err(err).Int64("payout_run_id", p.PayoutRunID).Msg("payout: mail savepoint failed")
			return
		}
	}
	if err := s.mails.Enqueue(ctx, tx, payoutDoneMail(nodeID, event, p)); err != nil {
		log.Warn().Err(err).Int64("payout_run_id", p.PayoutRunID).Int64("customer_account_id", p.CustomerAccountID).
			Msg("payout: confirmation mail not queued")
		if tx != nil {
			tx.RollbackTo(sp)
		}
	}
}

func payoutDoneMail(nodeID int64, event *model.Event, p model.Payout) *model.Mail {
	r := strings.NewReplacer(
		"{amount}", p.Amount.StringFixed(2),
		"{donation}", p.Donation.StringFixed(2),
		"{currency}", event.Currency,
		"{iban}", p.IBAN,
		"{name}", p.AccountName,
	)
	subject := event.PayoutDoneSubject
	if subject == "" {
		subject = "Payout"
	}
	return &model.Mail{
		NodeID:   nodeID,
		FromAddr: event.EmailDefaultSender,
		ToAddrs:  pq.StringArray{p.Email},
		Subject:  subject,
		Message:  r.Replace(event.PayoutDoneMessage),
	}
}

func (s *payoutService) Revoke(ctx context.Context, actor *Actor, nodeID, runID int64) (*dto.PayoutRunResponse, error) {
	var resp *dto.PayoutRunResponse
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		eventNode, _, err := s.guard(ctx, tx, actor, nodeID)
		if err != nil {
			return err
		}
		run, err := s.run(ctx, tx, eventNode.ID, runID, true)
		if err != nil {
			return err
		}
		if run.Done {
			return apierror.Conflict("payout run %d is already done", runID)
		}
		if run.Revoked {
			return apierror.Conflict("payout run %d was already revoked", runID)
		}
		if err := s.store.Payouts.ClearPayoutRun(ctx, tx, runID); err != nil {
			return apierror.FromDB(err)
		}
		if err := s.store.Payouts.DeletePayouts(ctx, tx, runID); err != nil {
			return apierror.FromDB(err)
		}
		run.Revoked = true
		if err := s.store.Payouts.UpdatePayoutRun(ctx, tx, run); err != nil {
			return apierror.FromDB(err)
		}
		if resp, err = s.response(ctx, tx, run); err != nil {
			return err
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditPayoutRunRevoked, UserID: &actor.UserID, Content: resp})
		return nil
	})
	return resp, err
}
