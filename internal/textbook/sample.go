package textbook

import (
	"context"
	"fmt"

	"github.com/aitextbook/backend-go/internal/knowledge"
	"github.com/aitextbook/backend-go/internal/logger"
	"go.uber.org/zap"
)

// SampleChunks 内置的机器人学示例教材内容，用于初始化向量库。
// 真实部署中这些内容来自教材构建流水线。
var SampleChunks = []knowledge.TextbookChunk{
	{
		ChapterSlug: "intro-robotics",
		ModuleName:  "Introduction to Robotics",
		ChunkIndex:  1,
		Content:     "Robotics is an interdisciplinary field that combines engineering and computer science to design, construct, operate, and use robots. Robots are programmable machines capable of carrying out a series of actions autonomously or semi-autonomously.",
	},
	{
		ChapterSlug: "intro-robotics",
		ModuleName:  "Introduction to Robotics",
		ChunkIndex:  2,
		Content:     "The word 'robot' comes from the Czech word 'robota', meaning forced labor. The term was first used in Karel Capek's 1921 play R.U.R. (Rossum's Universal Robots). Modern robotics integrates fields such as mechanical engineering, electrical engineering, computer science, and artificial intelligence.",
	},
	{
		ChapterSlug: "kinematics",
		ModuleName:  "Robot Kinematics",
		ChunkIndex:  1,
		Content:     "Kinematics is the study of motion without considering the forces that cause it. In robotics, kinematics deals with the relationship between the joint variables and the position and orientation of the robot's end-effector. Forward kinematics calculates the end-effector position given joint angles, while inverse kinematics determines joint angles needed to achieve a desired end-effector position.",
	},
	{
		ChapterSlug: "kinematics",
		ModuleName:  "Robot Kinematics",
		ChunkIndex:  2,
		Content:     "The Jacobian matrix is a fundamental concept in robot kinematics that relates joint velocities to end-effector velocities. It is particularly important in differential kinematics and plays a crucial role in robot control and trajectory planning.",
	},
	{
		ChapterSlug: "inverse-kinematics",
		ModuleName:  "Inverse Kinematics",
		ChunkIndex:  1,
		Content:     "Inverse kinematics (IK) is the process of determining the joint angles required to achieve a desired end-effector position and orientation. This is a fundamental problem in robotics, particularly for robotic arms and humanoid robots. The solution to inverse kinematics can be analytical for simple robots or numerical for complex multi-joint robots.",
	},
	{
		ChapterSlug: "inverse-kinematics",
		ModuleName:  "Inverse Kinematics",
		ChunkIndex:  2,
		Content:     "Analytical solutions for inverse kinematics exist for robots with specific geometric arrangements. For a 6-DOF robot with a spherical wrist, the position and orientation problems can be decoupled. Numerical methods like the Jacobian transpose method, Jacobian pseudoinverse method, and damped least squares are used for more complex robots.",
	},
	{
		ChapterSlug: "pid-control",
		ModuleName:  "PID Controllers",
		ChunkIndex:  1,
		Content:     "PID (Proportional-Integral-Derivative) controllers are the most commonly used feedback controllers in robotics and automation. A PID controller calculates an error value as the difference between a desired setpoint and a measured process variable, then applies a correction based on proportional, integral, and derivative terms.",
	},
	{
		ChapterSlug: "pid-control",
		ModuleName:  "PID Controllers",
		ChunkIndex:  2,
		Content:     "The integral term accounts for past values of the error, accumulating a 'sum of error' over time. The derivative term estimates the future trend of the error based on its current rate of change. Proper tuning of PID parameters (Kp, Ki, Kd) is crucial for stable and responsive control.",
	},
	{
		ChapterSlug: "humanoid-locomotion",
		ModuleName:  "Humanoid Robot Locomotion",
		ChunkIndex:  1,
		Content:     "Humanoid robot locomotion is one of the most challenging problems in robotics. Unlike wheeled robots, humanoid robots must maintain balance while walking on two legs. This requires sophisticated control algorithms and understanding of human-like gait patterns. Common approaches include Zero Moment Point (ZMP) control and Capture Point (CP) methods.",
	},
	{
		ChapterSlug: "humanoid-locomotion",
		ModuleName:  "Humanoid Robot Locomotion",
		ChunkIndex:  2,
		Content:     "Balance control in humanoid robots involves maintaining the center of mass within the support polygon defined by the feet. Advanced techniques include whole-body control, where multiple tasks (balance, walking, manipulation) are combined using optimization methods. The Linear Inverted Pendulum Model (LIPM) is often used to simplify balance control for humanoid robots.",
	},
}

// LoadSampleContent 向量化示例内容并写入向量库
//
// 单块向量化失败时跳过该块继续，全部失败才报错。
// 重复调用会产生重复条目，重建前先DeleteByChapter
func LoadSampleContent(ctx context.Context, embedder knowledge.Embedder, store knowledge.VectorStore) error {
	log := logger.Named("textbook")
	log.Info("loading sample textbook content", zap.Int("chunks", len(SampleChunks)))

	chunks := make([]knowledge.TextbookChunk, 0, len(SampleChunks))
	vectors := make([][]float32, 0, len(SampleChunks))
	for i, chunk := range SampleChunks {
		embedding, err := embedder.Embed(ctx, chunk.Content)
		if err != nil {
			log.Error("failed to embed chunk, skipping",
				zap.Int("index", i),
				zap.String("chapter", chunk.ChapterSlug),
				zap.Error(err))
			continue
		}
		chunks = append(chunks, chunk)
		vectors = append(vectors, embedding)
	}

	if len(chunks) == 0 {
		return fmt.Errorf("no chunks were embedded successfully")
	}

	if err := store.Upsert(ctx, chunks, vectors); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	log.Info("sample textbook content loaded", zap.Int("chunks", len(chunks)))
	return nil
}
