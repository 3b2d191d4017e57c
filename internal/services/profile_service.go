package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/healthchat-app/HealthChat/internal/core"
	"github.com/healthchat-app/HealthChat/internal/models"
)

var (
	ErrProfileNotFound = errors.New("no account found")
	ErrFamilyLimit     = fmt.Errorf("you can only add up to %d family members", models.MaxFamilyMembers)
)

// ProfileService owns mutation of the profile aggregate. Family members
// are value entities under the primary record; every change goes through
// the root, never through a member addressed on its own.
type ProfileService struct {
	store core.ProfileStore
}

func NewProfileService(store core.ProfileStore) *ProfileService {
	return &ProfileService{store: store}
}

// Create inserts a freshly verified account record.
func (s *ProfileService) Create(ctx context.Context, p *models.Profile) error {
	return s.store.CreateProfile(ctx, p)
}

func (s *ProfileService) Get(ctx context.Context, email string) (*models.Profile, error) {
	p, err := s.store.GetProfileByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

// Save applies one profile-editor save. New family members get ids here;
// existing members keep their stored chat history even though the editor
// payload does not carry it. A member absent from the payload is removed,
// which cascades to their reports and sessions.
func (s *ProfileService) Save(ctx context.Context, email string, upd *models.ProfileUpdate) error {
	if len(upd.FamilyMembers) > models.MaxFamilyMembers {
		return ErrFamilyLimit
	}

	current, err := s.Get(ctx, email)
	if err != nil {
		return err
	}

	// Same rule as for family members below: a payload that omits the
	// reports list keeps the stored one; only an explicit list replaces it.
	if upd.FileRefs == nil {
		upd.FileRefs = current.FileRefs
	}

	stored := make(map[string]*models.FamilyMember, len(current.FamilyMembers))
	for i := range current.FamilyMembers {
		stored[current.FamilyMembers[i].ID] = &current.FamilyMembers[i]
	}

	for i := range upd.FamilyMembers {
		m := &upd.FamilyMembers[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
			continue
		}
		if prev, ok := stored[m.ID]; ok {
			m.ChatHistory = prev.ChatHistory
			if m.FileRefs == nil {
				m.FileRefs = prev.FileRefs
			}
		}
	}

	return s.store.UpdateProfile(ctx, email, upd)
}

// AttachReport appends an uploaded medical-report reference to the named
// patient's record.
func (s *ProfileService) AttachReport(ctx context.Context, email, patientID string, ref models.FileRef) error {
	p, err := s.Get(ctx, email)
	if err != nil {
		return err
	}

	if patientID == "" || patientID == models.PatientSelf {
		return s.store.UpdateFileRefs(ctx, email, append(p.FileRefs, ref))
	}
	for i := range p.FamilyMembers {
		if p.FamilyMembers[i].ID == patientID {
			refs := append(p.FamilyMembers[i].FileRefs, ref)
			return s.store.UpdateFamilyFileRefs(ctx, email, patientID, refs)
		}
	}
	return fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
}

// RemoveReport drops the reference with the given URL from the named
// patient's record and returns it so the caller can clean up storage.
func (s *ProfileService) RemoveReport(ctx context.Context, email, patientID, url string) (*models.FileRef, error) {
	p, err := s.Get(ctx, email)
	if err != nil {
		return nil, err
	}

	if patientID == "" || patientID == models.PatientSelf {
		refs, removed := withoutURL(p.FileRefs, url)
		if removed == nil {
			return nil, fmt.Errorf("report not found: %s", url)
		}
		return removed, s.store.UpdateFileRefs(ctx, email, refs)
	}
	for i := range p.FamilyMembers {
		if p.FamilyMembers[i].ID == patientID {
			refs, removed := withoutURL(p.FamilyMembers[i].FileRefs, url)
			if removed == nil {
				return nil, fmt.Errorf("report not found: %s", url)
			}
			return removed, s.store.UpdateFamilyFileRefs(ctx, email, patientID, refs)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
}

func withoutURL(refs []models.FileRef, url string) ([]models.FileRef, *models.FileRef) {
	out := make([]models.FileRef, 0, len(refs))
	var removed *models.FileRef
	for i := range refs {
		if refs[i].URL == url && removed == nil {
			r := refs[i]
			removed = &r
			continue
		}
		out = append(out, refs[i])
	}
	return out, removed
}
