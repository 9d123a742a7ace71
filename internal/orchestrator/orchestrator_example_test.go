package orchestrator_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/catalog-importer/internal/clock/system"
	"github.com/JakeFAU/catalog-importer/internal/id/uuid"
	"github.com/JakeFAU/catalog-importer/internal/importer"
	"github.com/JakeFAU/catalog-importer/internal/orchestrator"
	"github.com/JakeFAU/catalog-importer/internal/progress"
	"github.com/JakeFAU/catalog-importer/internal/progress/sinks"
	queuemem "github.com/JakeFAU/catalog-importer/internal/queue/memory"
	"github.com/JakeFAU/catalog-importer/internal/storage/memory"
)

func ExampleOrchestrator() {
	ctx := context.Background()
	jobs := memory.NewProgressStore(memory.ProgressStoreConfig{})
	queue := queuemem.NewQueue(1)
	orch := orchestrator.New(orchestrator.Config{CountFirst: true}, orchestrator.Deps{
		Store:    jobs,
		Blobs:    memory.NewBlobStore(),
		Queue:    queue,
		Importer: importer.New(importer.Config{}, memory.NewCatalog(), nil, nil),
		Progress: progress.NewHub(progress.Config{}, sinks.NewStoreSink(jobs, nil)),
		IDs:      uuid.New(),
		Clock:    system.New(),
	})

	job, err := orch.Submit(ctx, orchestrator.Upload{
		Filename: "products.csv",
		Body:     strings.NewReader("name,sku,description\nWidget,W-1,Blue\nGadget,,\n"),
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(job.Status)

	item, _ := queue.Dequeue(ctx)
	if err := orch.Run(ctx, item); err != nil {
		fmt.Println(err)
		return
	}
	final, _ := jobs.Get(ctx, job.ID)
	fmt.Println(final.Status, final.Progress, final.Message)
	// Output:
	// accepted
	// completed 100 Import completed successfully (1 of 2 rows skipped)
}
