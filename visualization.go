package main

import (
	"fmt"
	"math"
	"os"
	"strings"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Per-layer training diagnostics as self-contained HTML. Each sweep layer
// writes one train_layer<k>.html next to results.json: train loss, validation
// loss, and the learning rate over evaluation checkpoints, drawn by a small
// inline canvas script so the file opens in any browser with no server and
// no CDN fetch.
//
// The interesting read is usually the LR chart. Every halving shows up as a
// step down, so "how many times did this layer stall" is visible at a
// glance, and comparing layers shows whether deep layers plateau earlier
// than shallow ones.
//
// The aggregate picture (F1 across layers, several runs overlaid) is the PNG
// plot command's job; this file only covers one training run.
//
// ===========================================================================

// TrainingMetrics records one probe's training curve at each evaluation
// checkpoint.
type TrainingMetrics struct {
	Evals     []int     // evaluation index (1-based)
	TrainLoss []float64 // mean train loss since the previous checkpoint
	ValLoss   []float64 // validation loss at the checkpoint
	LR        []float64 // learning rate after the checkpoint's state update
}

// NewTrainingMetrics creates an empty metrics tracker.
func NewTrainingMetrics() *TrainingMetrics {
	return &TrainingMetrics{}
}

// Record appends one checkpoint.
func (m *TrainingMetrics) Record(eval int, trainLoss, valLoss, lr float64) {
	m.Evals = append(m.Evals, eval)
	m.TrainLoss = append(m.TrainLoss, trainLoss)
	m.ValLoss = append(m.ValLoss, valLoss)
	m.LR = append(m.LR, lr)
}

// SaveHTML writes the training curve as a self-contained HTML file with
// the loss chart (train and validation series), the learning-rate chart,
// and summary cards.
func (m *TrainingMetrics) SaveHTML(filename string) error {
	if len(m.Evals) == 0 {
		return fmt.Errorf("no metrics to save")
	}

	bestVal := m.ValLoss[0]
	for _, loss := range m.ValLoss {
		if loss < bestVal {
			bestVal = loss
		}
	}
	finalVal := m.ValLoss[len(m.ValLoss)-1]
	finalLR := m.LR[len(m.LR)-1]

	html := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Probe Training Curve</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', 'Roboto', 'Oxygen', 'Ubuntu', 'Cantarell', sans-serif;
            background: #0d1117;
            color: #c9d1d9;
            padding: 20px;
            line-height: 1.6;
        }
        .container {
            max-width: 1200px;
            margin: 0 auto;
        }
        h1 {
            font-size: 28px;
            margin-bottom: 10px;
            color: #58a6ff;
        }
        .subtitle {
            color: #8b949e;
            margin-bottom: 30px;
            font-size: 14px;
        }
        .stats {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(200px, 1fr));
            gap: 15px;
            margin-bottom: 30px;
        }
        .stat-card {
            background: #161b22;
            border: 1px solid #30363d;
            border-radius: 6px;
            padding: 15px;
        }
        .stat-label {
            font-size: 12px;
            color: #8b949e;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 5px;
        }
        .stat-value {
            font-size: 24px;
            font-weight: 600;
            color: #58a6ff;
        }
        .chart-container {
            background: #161b22;
            border: 1px solid #30363d;
            border-radius: 6px;
            padding: 20px;
            margin-bottom: 20px;
        }
        .chart-title {
            font-size: 18px;
            font-weight: 600;
            margin-bottom: 15px;
            color: #c9d1d9;
        }
        .legend {
            font-size: 12px;
            color: #8b949e;
            margin-bottom: 10px;
        }
        .legend span {
            margin-right: 15px;
        }
        canvas {
            width: 100%% !important;
            height: 300px !important;
        }
        .footer {
            text-align: center;
            color: #8b949e;
            font-size: 12px;
            margin-top: 40px;
            padding-top: 20px;
            border-top: 1px solid #30363d;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>Probe Training Curve</h1>
        <div class="subtitle">One classifier head over frozen encoder states</div>

        <div class="stats">
            <div class="stat-card">
                <div class="stat-label">Evaluations</div>
                <div class="stat-value">%d</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Best Val Loss</div>
                <div class="stat-value">%.4f</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Final Val Loss</div>
                <div class="stat-value">%.4f</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Final Learning Rate</div>
                <div class="stat-value">%.2e</div>
            </div>
        </div>

        <div class="chart-container">
            <div class="chart-title">Loss</div>
            <div class="legend">
                <span style="color:#58a6ff">&#9632; train</span>
                <span style="color:#f78166">&#9632; validation</span>
            </div>
            <canvas id="lossChart"></canvas>
        </div>

        <div class="chart-container">
            <div class="chart-title">Learning Rate</div>
            <canvas id="lrChart"></canvas>
        </div>

        <div class="footer">
            Generated by edge-probe
        </div>
    </div>

    <script>
        // Data from Go
        const evals = %s;
        const lossSeries = [
            {data: %s, color: '#58a6ff'},
            {data: %s, color: '#f78166'}
        ];
        const lrSeries = [
            {data: %s, color: '#56d364'}
        ];

        // Simple multi-series line chart
        function drawChart(canvasId, series, yLabel) {
            const canvas = document.getElementById(canvasId);
            const ctx = canvas.getContext('2d');
            const dpr = window.devicePixelRatio || 1;

            const rect = canvas.getBoundingClientRect();
            canvas.width = rect.width * dpr;
            canvas.height = rect.height * dpr;
            ctx.scale(dpr, dpr);

            const width = rect.width;
            const height = rect.height;
            const padding = 50;
            const chartWidth = width - 2 * padding;
            const chartHeight = height - 2 * padding;

            // Shared data range across all series
            let minVal = Infinity, maxVal = -Infinity;
            for (const s of series) {
                minVal = Math.min(minVal, ...s.data);
                maxVal = Math.max(maxVal, ...s.data);
            }
            const range = (maxVal - minVal) || 1;
            const minEval = Math.min(...evals);
            const maxEval = Math.max(...evals);
            const evalRange = (maxEval - minEval) || 1;

            // Axes
            ctx.strokeStyle = '#30363d';
            ctx.lineWidth = 1;
            ctx.beginPath();
            ctx.moveTo(padding, padding);
            ctx.lineTo(padding, height - padding);
            ctx.lineTo(width - padding, height - padding);
            ctx.stroke();

            // Grid lines and y labels
            ctx.strokeStyle = '#21262d';
            for (let i = 1; i < 5; i++) {
                const y = padding + (chartHeight * i / 5);
                ctx.beginPath();
                ctx.moveTo(padding, y);
                ctx.lineTo(width - padding, y);
                ctx.stroke();

                const val = maxVal - (range * i / 5);
                ctx.fillStyle = '#8b949e';
                ctx.font = '11px monospace';
                ctx.textAlign = 'right';
                ctx.fillText(val.toPrecision(4), padding - 10, y + 4);
            }

            // Series lines
            for (const s of series) {
                ctx.strokeStyle = s.color;
                ctx.lineWidth = 2;
                ctx.beginPath();
                for (let i = 0; i < s.data.length; i++) {
                    const x = padding + (chartWidth * (evals[i] - minEval) / evalRange);
                    const y = height - padding - (chartHeight * (s.data[i] - minVal) / range);
                    if (i === 0) {
                        ctx.moveTo(x, y);
                    } else {
                        ctx.lineTo(x, y);
                    }
                }
                ctx.stroke();
            }

            // X-axis labels
            ctx.fillStyle = '#8b949e';
            ctx.font = '11px monospace';
            ctx.textAlign = 'center';
            for (let i = 0; i <= 4; i++) {
                const e = minEval + (evalRange * i / 4);
                const x = padding + (chartWidth * i / 4);
                ctx.fillText(Math.round(e).toString(), x, height - padding + 20);
            }

            // Axis labels
            ctx.fillStyle = '#c9d1d9';
            ctx.font = '12px sans-serif';
            ctx.textAlign = 'center';
            ctx.fillText('Evaluation', width / 2, height - 10);

            ctx.save();
            ctx.translate(15, height / 2);
            ctx.rotate(-Math.PI / 2);
            ctx.fillText(yLabel, 0, 0);
            ctx.restore();
        }

        window.onload = function() {
            drawChart('lossChart', lossSeries, 'Loss');
            drawChart('lrChart', lrSeries, 'Learning Rate');
        };

        window.onresize = function() {
            drawChart('lossChart', lossSeries, 'Loss');
            drawChart('lrChart', lrSeries, 'Learning Rate');
        };
    </script>
</body>
</html>`, len(m.Evals), bestVal, finalVal, finalLR,
		formatJSArray(m.Evals),
		formatJSArrayFloat(m.TrainLoss),
		formatJSArrayFloat(m.ValLoss),
		formatJSArrayFloat(m.LR))

	return os.WriteFile(filename, []byte(html), 0644)
}

// formatJSArray formats an int slice as a JavaScript array literal.
func formatJSArray(arr []int) string {
	if len(arr) == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range arr {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("%d", v))
	}
	sb.WriteString("]")
	return sb.String()
}

// formatJSArrayFloat formats a float64 slice as a JavaScript array literal.
// NaN and the infinities have no JSON spelling, so they degrade to null and
// the float64 extremes.
func formatJSArrayFloat(arr []float64) string {
	if len(arr) == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range arr {
		if i > 0 {
			sb.WriteString(",")
		}
		switch {
		case math.IsNaN(v):
			sb.WriteString("null")
		case math.IsInf(v, 1):
			sb.WriteString("1e308")
		case math.IsInf(v, -1):
			sb.WriteString("-1e308")
		default:
			sb.WriteString(fmt.Sprintf("%.6g", v))
		}
	}
	sb.WriteString("]")
	return sb.String()
}
