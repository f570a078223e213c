package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"flowerpod/models"
)

func TestAuditAndRepair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	healthy := createCaptioned(t, f, alice, "Tomato Basics", 2)
	lost := createCaptioned(t, f, alice, "Rose Pruning", 1)
	require.NoError(t, os.RemoveAll(f.dirPath("Rose_Pruning")))
	require.NoError(t, os.Remove(filepath.Join(f.dirPath("Tomato_Basics"), "2.png")))
	require.NoError(t, os.Mkdir(f.dirPath("Leftover_Dir"), 0755))

	orphan := models.GuideImage{GuideID: 4242, Image: "guides/images/Gone/1.png", Caption: models.CaptionUnset, Position: 1}
	// rows written by hand or by older releases can reference a missing guide
	err := f.db.Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("PRAGMA foreign_keys = OFF").Error; err != nil {
			return err
		}
		defer conn.Exec("PRAGMA foreign_keys = ON")
		return conn.Create(&orphan).Error
	})
	require.NoError(t, err)

	report, err := f.svc.Audit(ctx)
	require.NoError(t, err)
	require.False(t, report.Clean())
	require.Len(t, report.MissingDirs, 1)
	require.Equal(t, lost.ID, report.MissingDirs[0].ID)
	require.Len(t, report.MissingFiles, 1)
	require.Equal(t, healthy.Images[1].ID, report.MissingFiles[0].ID)
	require.Len(t, report.OrphanImages, 1)
	require.Equal(t, orphan.ID, report.OrphanImages[0].ID)
	require.Equal(t, []string{"Leftover_Dir"}, report.OrphanDirs)
	require.Empty(t, report.MisplacedImages)

	res, err := f.svc.Repair(ctx, report)
	require.NoError(t, err)
	require.Equal(t, 1, res.ImagesDeleted)
	require.Equal(t, 1, res.DirsRemoved)
	f.requireNoPath(t, "Leftover_Dir")

	report, err = f.svc.Audit(ctx)
	require.NoError(t, err)
	require.Empty(t, report.OrphanImages)
	require.Empty(t, report.OrphanDirs)
	require.Len(t, report.MissingDirs, 1)
}

func TestAuditCleanAfterWorkflows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := createCaptioned(t, f, alice, "Tomato Basics", 2)
	_, err := f.svc.Edit(ctx, alice, g.ID, EditInput{Title: strPtr("Tomato Mastery")})
	require.NoError(t, err)
	d := createCaptioned(t, f, alice, "Rose Pruning", 1)
	require.NoError(t, f.svc.Delete(ctx, alice, d.ID))

	report, err := f.svc.Audit(ctx)
	require.NoError(t, err)
	require.True(t, report.Clean(), "%+v", report)
}

func TestDirRemovedDoesNotPanic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	createCaptioned(t, f, alice, "Tomato Basics", 1)
	require.NoError(t, os.RemoveAll(f.dirPath("Tomato_Basics")))

	f.svc.DirRemoved(ctx, "Tomato_Basics")
	f.svc.DirRemoved(ctx, "Unknown_Dir")
}
