package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/healthchat-app/HealthChat/internal/models"
)

func TestSaveRejectsFourthFamilyMember(t *testing.T) {
	svc := NewProfileService(&fakeStore{profile: newTestProfile()})

	upd := &models.ProfileUpdate{
		FamilyMembers: make([]models.FamilyMember, models.MaxFamilyMembers+1),
	}
	err := svc.Save(context.Background(), "jane@example.com", upd)
	if !errors.Is(err, ErrFamilyLimit) {
		t.Fatalf("err = %v, want ErrFamilyLimit", err)
	}
}

func TestSaveAssignsIDsAndPreservesHistory(t *testing.T) {
	store := &fakeStore{profile: newTestProfile()}
	store.profile.FamilyMembers[0].ChatHistory = json.RawMessage(`{"version":2,"sessions":[]}`)
	store.profile.FamilyMembers[0].FileRefs = []models.FileRef{{Name: "scan.pdf", URL: "https://b.s3.test/scan.pdf"}}
	svc := NewProfileService(store)

	upd := &models.ProfileUpdate{
		FullName: "Jane Smith",
		FamilyMembers: []models.FamilyMember{
			{ID: "fam-1", FullName: "Tom Smith", Age: "8"},
			{FullName: "Ana Smith"},
		},
	}
	if err := svc.Save(context.Background(), "jane@example.com", upd); err != nil {
		t.Fatalf("Save: %v", err)
	}

	saved := store.lastUpdate.FamilyMembers
	if saved[1].ID == "" {
		t.Error("new member did not get an id")
	}
	// Editor payloads never carry chat history or reports; existing members
	// keep what is stored for them.
	if saved[0].ChatHistory == nil {
		t.Error("existing member's chat history dropped on save")
	}
	if len(saved[0].FileRefs) != 1 {
		t.Errorf("existing member's reports = %v", saved[0].FileRefs)
	}
}

func TestSaveRemovingMemberCascades(t *testing.T) {
	store := &fakeStore{profile: newTestProfile()}
	store.profile.FamilyMembers[0].ChatHistory = json.RawMessage(`{"version":2,"sessions":[]}`)
	svc := NewProfileService(store)

	upd := &models.ProfileUpdate{FullName: "Jane Smith"}
	if err := svc.Save(context.Background(), "jane@example.com", upd); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(store.profile.FamilyMembers) != 0 {
		t.Errorf("removed member still present: %+v", store.profile.FamilyMembers)
	}
	if p, err := svc.Get(context.Background(), "jane@example.com"); err != nil {
		t.Fatalf("Get: %v", err)
	} else if p.PatientView("fam-1") != nil {
		t.Error("removed member still resolvable as a patient")
	}
}

func TestSavePreservesPrimaryReportsWhenOmitted(t *testing.T) {
	store := &fakeStore{profile: newTestProfile()}
	store.profile.FileRefs = []models.FileRef{{Name: "mri.pdf", URL: "https://b.s3.test/mri.pdf"}}
	svc := NewProfileService(store)

	upd := &models.ProfileUpdate{FullName: "Jane Smith"}
	if err := svc.Save(context.Background(), "jane@example.com", upd); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(store.lastUpdate.FileRefs) != 1 {
		t.Errorf("omitted reports list wiped the stored one: %+v", store.lastUpdate.FileRefs)
	}

	// An explicit empty list still clears them.
	upd = &models.ProfileUpdate{FullName: "Jane Smith", FileRefs: []models.FileRef{}}
	if err := svc.Save(context.Background(), "jane@example.com", upd); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(store.lastUpdate.FileRefs) != 0 {
		t.Errorf("explicit empty list did not clear reports: %+v", store.lastUpdate.FileRefs)
	}
}

func TestAttachAndRemoveReport(t *testing.T) {
	store := &fakeStore{profile: newTestProfile()}
	svc := NewProfileService(store)
	ctx := context.Background()

	ref := models.FileRef{Name: "blood.pdf", URL: "https://b.s3.test/blood.pdf"}
	if err := svc.AttachReport(ctx, "jane@example.com", models.PatientSelf, ref); err != nil {
		t.Fatalf("AttachReport self: %v", err)
	}
	if err := svc.AttachReport(ctx, "jane@example.com", "fam-1", ref); err != nil {
		t.Fatalf("AttachReport family: %v", err)
	}
	if err := svc.AttachReport(ctx, "jane@example.com", "nope", ref); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("unknown patient err = %v, want ErrPatientNotFound", err)
	}

	removed, err := svc.RemoveReport(ctx, "jane@example.com", "fam-1", ref.URL)
	if err != nil {
		t.Fatalf("RemoveReport: %v", err)
	}
	if removed.Name != "blood.pdf" {
		t.Errorf("removed = %+v", removed)
	}
	if len(store.profile.FamilyMembers[0].FileRefs) != 0 {
		t.Errorf("family refs after remove = %+v", store.profile.FamilyMembers[0].FileRefs)
	}
	// The primary patient's copy is untouched.
	if len(store.profile.FileRefs) != 1 {
		t.Errorf("self refs after family remove = %+v", store.profile.FileRefs)
	}

	if _, err := svc.RemoveReport(ctx, "jane@example.com", "fam-1", ref.URL); err == nil {
		t.Error("removing an absent report succeeded")
	}
}

func TestGetUnknownProfile(t *testing.T) {
	svc := NewProfileService(&fakeStore{})
	if _, err := svc.Get(context.Background(), "nobody@example.com"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("err = %v, want ErrProfileNotFound", err)
	}
}
