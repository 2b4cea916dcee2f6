package service

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"gorm.io/gorm"
)

// resolveTag finds a scanned tag within the event tree. With bind set, a
// uid seen for the first time is stored on the tag.
func resolveTag(ctx context.Context, repo repository.UserTagRepository, tx *gorm.DB, eventNodeID int64, scan dto.UserTagScan, bind bool) (*model.UserTag, error) {
	switch {
	case scan.Pin != "":
		tag, err := repo.FindUserTagByPin(ctx, tx, eventNodeID, scan.Pin)
		if err != nil {
			return nil, lookup(err, "unknown user tag")
		}
		if scan.UID == nil {
			return tag, nil
		}
		if tag.UID == nil {
			if bind {
				tag.UID = scan.UID
				if err := repo.UpdateUserTag(ctx, tx, tag); err != nil {
					return nil, apierror.FromDB(err)
				}
			}
			return tag, nil
		}
		if *tag.UID != *scan.UID {
			return nil, apierror.InvalidArgument("tag uid does not match its pin")
		}
		return tag, nil
	case scan.UID != nil:
		tag, err := repo.FindUserTagByUID(ctx, tx, eventNodeID, *scan.UID)
		if err != nil {
			return nil, lookup(err, "unknown user tag")
		}
		return tag, nil
	}
	return nil, apierror.InvalidArgument("a user tag needs a pin or uid")
}

// customerByTagUID loads the private account bound to the tag with uid.
func customerByTagUID(ctx context.Context, store *repository.Store, tx *gorm.DB, eventNodeID, uid int64) (*model.Account, *model.UserTag, error) {
	tag, err := store.UserTags.FindUserTagByUID(ctx, tx, eventNodeID, uid)
	if err != nil {
		return nil, nil, lookup(err, "unknown customer tag %d", uid)
	}
	acc, err := store.Accounts.FindAccountByUserTag(ctx, tx, tag.ID)
	if err != nil {
		return nil, nil, lookup(err, "no customer account for tag %d", uid)
	}
	if !acc.IsCustomer() {
		return nil, nil, apierror.InvalidArgument("tag %d does not belong to a customer", uid)
	}
	return acc, tag, nil
}
