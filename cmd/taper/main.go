// Command taper runs the full channel-pruning pipeline on a small VGG-style
// network with synthetic data: sparsifying training under the ISTA proximal
// optimizer, sparsification, structural compression, and finetuning of the
// compressed model.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"

	"github.com/born-ml/taper/internal/autodiff"
	"github.com/born-ml/taper/internal/backend/cpu"
	"github.com/born-ml/taper/internal/models"
	"github.com/born-ml/taper/internal/nn"
	"github.com/born-ml/taper/internal/optim"
	"github.com/born-ml/taper/internal/prune"
)

// stdoutSink prints emitted metrics, standing in for a dashboard exporter.
type stdoutSink struct{}

func (stdoutSink) Emit(name string, value float64, step int) {
	fmt.Printf("    %-28s %10.4f\n", name, value)
}

func main() {
	epochs := flag.Int("epochs", 3, "Sparsifying training epochs")
	finetuneEpochs := flag.Int("finetune", 2, "Finetuning epochs after compression")
	batchSize := flag.Int("batch", 16, "Batch size")
	numBatches := flag.Int("batches", 8, "Batches per epoch (synthetic data)")
	numClasses := flag.Int("classes", 4, "Number of classes")
	inputSize := flag.Int("input", 16, "Square input resolution")
	lr := flag.Float64("lr", 0.01, "Learning rate")
	rho := flag.Float64("rho", 1e-4, "Sparsity regularization strength")
	alpha := flag.Float64("alpha", 1.0, "Gamma rescaling factor (1.0 disables)")
	eps := flag.Float64("eps", 1e-3, "Zero threshold for sparsify/compress")
	pretrained := flag.Bool("pretrained", false, "Treat initial weights as trained and skip the dense warmup report")
	seed := flag.Int64("seed", 42, "Random seed for synthetic data")
	flag.Parse()

	backend := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(*seed)) //nolint:gosec // synthetic data only

	cfg := []int{8, models.Pool, 16, models.Pool}
	model, err := models.NewVGG(cfg, 1, *numClasses, *inputSize, backend)
	if err != nil {
		log.Fatalf("build model: %v", err)
	}

	session, err := prune.NewSession(model, prune.SessionConfig{
		LR:        float32(*lr),
		Rho:       float32(*rho),
		Alpha:     float32(*alpha),
		Eps:       float32(*eps),
		InputSize: *inputSize,
	}, backend)
	if err != nil {
		log.Fatalf("build session: %v", err)
	}

	fmt.Printf("taper: channel pruning on config %v, input %dx%d, %d classes\n",
		cfg, *inputSize, *inputSize, *numClasses)
	fmt.Printf("penalties: %v\n", session.Penalties)
	if *pretrained {
		fmt.Println("treating initial weights as pretrained")
	}

	trainBatches := makeSyntheticBatches(rng, *numBatches, *batchSize, *numClasses, *inputSize, backend)
	valBatches := makeSyntheticBatches(rng, 2, *batchSize, *numClasses, *inputSize, backend)

	sink := stdoutSink{}
	criterion := nn.NewCrossEntropyLoss(backend)

	// Phase 1: sparsifying training between the shrink/grow rescaling pair.
	session.ShrinkScales()
	backend.Tape().StartRecording()

	for epoch := 1; epoch <= *epochs; epoch++ {
		model.Train()
		loss, acc := trainEpoch(model, trainBatches, criterion, session, backend)

		model.Eval()
		valLoss, valAcc := validate(model, valBatches, criterion, backend)

		fmt.Printf("epoch %2d/%d: loss=%.4f acc=%.2f%% val_loss=%.4f val_acc=%.2f%%\n",
			epoch, *epochs, loss, acc*100, valLoss, valAcc*100)
		session.Report().EmitTo(sink, epoch)
	}
	backend.Tape().StopRecording()
	session.GrowScales()

	// Phase 2: pin near-zero channels and rebuild without them.
	pinned := session.Sparsify()
	report := session.Report()
	fmt.Printf("\nsparsify: pinned %d channels\n%s\n", pinned, report)

	survivors, err := prune.SurvivingChannels(session.Seq, float32(*eps))
	if err != nil {
		log.Fatalf("surviving channels: %v", err)
	}
	compressedCfg, err := models.CompressedConfig(cfg, survivors)
	if err != nil {
		log.Fatalf("compressed config: %v", err)
	}

	smaller, err := models.NewVGG(compressedCfg, 1, *numClasses, *inputSize, backend)
	if err != nil {
		log.Fatalf("build compressed model: %v", err)
	}
	dst, err := prune.Walk[Backend](smaller, *inputSize)
	if err != nil {
		log.Fatalf("walk compressed model: %v", err)
	}
	if err := prune.Compress(session.Seq, dst, float32(*eps)); err != nil {
		log.Fatalf("compress: %v", err)
	}
	fmt.Printf("\ncompressed: %v -> %v\n", cfg, compressedCfg)

	// Phase 3: finetune the compressed model under plain SGD.
	finetuner := optim.NewSGD(smaller.Parameters(), optim.SGDConfig{
		LR:          float32(*lr) / 10,
		Momentum:    0.9,
		WeightDecay: 5e-4,
	}, backend)

	backend.Tape().StartRecording()
	for epoch := 1; epoch <= *finetuneEpochs; epoch++ {
		smaller.Train()
		loss, acc := finetuneEpoch(smaller, trainBatches, criterion, finetuner, backend)

		smaller.Eval()
		valLoss, valAcc := validate(smaller, valBatches, criterion, backend)

		fmt.Printf("finetune %2d/%d: loss=%.4f acc=%.2f%% val_loss=%.4f val_acc=%.2f%%\n",
			epoch, *finetuneEpochs, loss, acc*100, valLoss, valAcc*100)
	}
	backend.Tape().StopRecording()

	smaller.Eval()
	finalLoss, finalAcc := validate(smaller, valBatches, criterion, backend)
	fmt.Printf("\nfinal: loss=%.4f acc=%.2f%%\n", finalLoss, finalAcc*100)
}

// trainEpoch runs one epoch of the two-optimizer sparsifying training.
func trainEpoch(
	model *models.VGG[Backend],
	batches []*Batch,
	criterion *nn.CrossEntropyLoss[Backend],
	session *prune.Session[Backend],
	backend Backend,
) (avgLoss, accuracy float32) {
	totalLoss := float32(0)
	totalCorrect := 0
	totalSamples := 0

	for _, batch := range batches {
		session.ZeroGrad()

		logits := model.Forward(batch.Images)
		loss := criterion.Forward(logits, batch.Labels)

		grads := autodiff.Backward(loss, backend)
		session.Step(grads)

		totalLoss += loss.Data()[0]
		acc := nn.Accuracy(logits, batch.Labels)
		totalCorrect += int(acc * float32(batch.Size))
		totalSamples += batch.Size

		backend.Tape().Clear()
	}

	return totalLoss / float32(len(batches)), float32(totalCorrect) / float32(totalSamples)
}

// finetuneEpoch runs one epoch under a single SGD optimizer.
func finetuneEpoch(
	model *models.VGG[Backend],
	batches []*Batch,
	criterion *nn.CrossEntropyLoss[Backend],
	optimizer *optim.SGD[Backend],
	backend Backend,
) (avgLoss, accuracy float32) {
	totalLoss := float32(0)
	totalCorrect := 0
	totalSamples := 0

	for _, batch := range batches {
		optimizer.ZeroGrad()

		logits := model.Forward(batch.Images)
		loss := criterion.Forward(logits, batch.Labels)

		grads := autodiff.Backward(loss, backend)
		optimizer.Step(grads)

		totalLoss += loss.Data()[0]
		acc := nn.Accuracy(logits, batch.Labels)
		totalCorrect += int(acc * float32(batch.Size))
		totalSamples += batch.Size

		backend.Tape().Clear()
	}

	return totalLoss / float32(len(batches)), float32(totalCorrect) / float32(totalSamples)
}

// validate evaluates the model without recording gradients.
func validate(
	model *models.VGG[Backend],
	batches []*Batch,
	criterion *nn.CrossEntropyLoss[Backend],
	backend Backend,
) (avgLoss, accuracy float32) {
	wasRecording := backend.Tape().IsRecording()
	backend.Tape().StopRecording()
	defer func() {
		if wasRecording {
			backend.Tape().StartRecording()
		}
	}()

	totalLoss := float32(0)
	totalCorrect := 0
	totalSamples := 0

	for _, batch := range batches {
		logits := model.Forward(batch.Images)
		loss := criterion.Forward(logits, batch.Labels)

		totalLoss += loss.Data()[0]
		acc := nn.Accuracy(logits, batch.Labels)
		totalCorrect += int(acc * float32(batch.Size))
		totalSamples += batch.Size
	}

	return totalLoss / float32(len(batches)), float32(totalCorrect) / float32(totalSamples)
}
